package source

// BuiltinSpecs returns the compiled-in source catalog: the production
// systems this loader was commissioned for. A YAML catalog file can extend
// the set at startup (see LoadCatalog).
func BuiltinSpecs() []*Spec {
	return []*Spec{
		salesTransactions(),
		customers(),
		inventoryProducts(),
		financialLedger(),
	}
}

func salesTransactions() *Spec {
	return &Spec{
		FilePattern: "sales_*.csv",
		Format:      FormatDelimited,
		TargetTable: "transactions",
		Grain:       []string{"transaction_id"},
		Fields: []FieldSpec{
			{Name: "transaction_id", Type: TypeString, MaxLength: 100},
			{Name: "customer_id", Type: TypeString, MaxLength: 100},
			{Name: "product_sku", Type: TypeString, MaxLength: 100},
			{Name: "quantity", Type: TypeInt},
			{Name: "unit_price", Type: TypeFloat},
			{Name: "total_amount", Type: TypeFloat},
			{Name: "sale_date", Type: TypeDate},
			{Name: "sales_rep", Type: TypeString, MaxLength: 100},
		},
		AuditSQL: `SELECT
			CASE WHEN SUM(CASE WHEN total_amount > 0 THEN 1 ELSE 0 END) = COUNT(*) THEN 1 ELSE 0 END AS total_amount_positive,
			CASE WHEN SUM(CASE WHEN unit_price > 0 THEN 1 ELSE 0 END) = COUNT(*) THEN 1 ELSE 0 END AS unit_price_positive
			FROM {table}`,
		Delimiter: ",",
		Encoding:  "utf-8",
	}
}

func customers() *Spec {
	return &Spec{
		FilePattern: "customers-*.csv",
		Format:      FormatDelimited,
		TargetTable: "customers",
		Grain:       []string{"customer_id"},
		Fields: []FieldSpec{
			{Name: "customer_id", Alias: "Customer Id", Type: TypeString, MaxLength: 50},
			{Name: "first_name", Alias: "First Name", Type: TypeString, MaxLength: 100},
			{Name: "last_name", Alias: "Last Name", Type: TypeString, MaxLength: 100},
			{Name: "company_name", Alias: "Company", Type: TypeString, MaxLength: 100},
			{Name: "city", Alias: "City", Type: TypeString, MaxLength: 100},
			{Name: "country", Alias: "Country", Type: TypeString, MaxLength: 100},
			{Name: "phone_one", Alias: "Phone 1", Type: TypeString, MaxLength: 25,
				Coercions: []Coercion{CoerceTrim, CoerceStripNonDigits}},
			{Name: "phone_two", Alias: "Phone 2", Type: TypeString, MaxLength: 25,
				Coercions: []Coercion{CoerceTrim, CoerceStripNonDigits}},
			{Name: "email", Alias: "Email", Type: TypeString, MaxLength: 100,
				Coercions: []Coercion{CoerceTrim, CoerceLower}},
			{Name: "subscription_date", Alias: "Subscription Date", Type: TypeDate},
			{Name: "website", Alias: "Website", Type: TypeString, MaxLength: 100},
		},
		Delimiter: ",",
		Encoding:  "utf-8",
	}
}

func inventoryProducts() *Spec {
	return &Spec{
		FilePattern: "inventory_*.xlsx",
		Format:      FormatSpreadsheet,
		TargetTable: "products",
		Grain:       []string{"sku"},
		Fields: []FieldSpec{
			{Name: "sku", Alias: "SKU", Type: TypeString},
			{Name: "name", Alias: "Product Name", Type: TypeString},
			{Name: "category", Alias: "Category", Type: TypeString},
			{Name: "price", Alias: "Price", Type: TypeFloat},
			{Name: "stock_quantity", Alias: "Stock Qty", Type: TypeInt},
			{Name: "supplier", Alias: "Supplier", Type: TypeString},
			{Name: "last_updated", Alias: "Last Updated", Type: TypeDateTime},
		},
		AuditSQL: `SELECT
			CASE WHEN SUM(CASE WHEN price > 0 THEN 1 ELSE 0 END) = COUNT(*) THEN 1 ELSE 0 END AS price_positive,
			CASE WHEN SUM(CASE WHEN stock_quantity > 0 THEN 1 ELSE 0 END) = COUNT(*) THEN 1 ELSE 0 END AS stock_quantity_positive
			FROM {table}`,
		SheetName: "Products",
		SkipRows:  1,
	}
}

func financialLedger() *Spec {
	return &Spec{
		FilePattern: "ledger_*.json",
		Format:      FormatDocument,
		TargetTable: "ledger_entries",
		Grain:       []string{"entry_id"},
		Fields: []FieldSpec{
			{Name: "entry_id", Type: TypeInt},
			{Name: "account_code", Type: TypeString, MaxLength: 100},
			{Name: "account_name", Type: TypeString, MaxLength: 100},
			{Name: "debit_amount", Type: TypeFloat, Nullable: true},
			{Name: "credit_amount", Type: TypeFloat, Nullable: true},
			{Name: "description", Type: TypeString, MaxLength: 500},
			{Name: "transaction_date", Type: TypeDate},
			{Name: "reference_number", Type: TypeString, MaxLength: 100},
		},
		ArrayPath: "entries.item",
	}
}
