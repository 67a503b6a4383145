package validate

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/shopspring/decimal"
)

// RowHash digests the canonical form of a coerced record: keys sorted
// lexicographically, rendered as key=value pairs joined with "|", NULLs
// rendered empty. The 64-bit xxHash is truncated to 32 bits and returned
// as 4 big-endian bytes, which the merge compares to detect content change.
func RowHash(values map[string]any) []byte {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	var b strings.Builder

	for i, key := range keys {
		if i > 0 {
			b.WriteByte('|')
		}

		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(renderValue(values[key]))
	}

	digest := make([]byte, 4)
	binary.BigEndian.PutUint32(digest, uint32(xxhash.Sum64String(b.String())))

	return digest
}

// renderValue produces the stable textual form of a coerced value used in
// hash input. It must stay deterministic across runs: any change here
// makes every existing target row look modified on its next load.
func renderValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case time.Time:
		return v.Format(time.DateTime)
	case decimal.Decimal:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
