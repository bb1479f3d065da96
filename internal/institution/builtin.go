package institution

// Builtin returns the institution export formats supported out of the box.
func Builtin() []Config {
	return []Config{
		{
			Name:    "Chase",
			Aliases: []string{"chase"},
			Fields: map[string][]string{
				FieldPostedAt:    {"Transaction Date", "Post Date"},
				FieldMerchant:    {"Description"},
				FieldCategory:    {"Category"},
				FieldDescription: {"Type", "Memo"},
				FieldAmount:      {"Amount"},
			},
		},
		{
			Name:    "American Express",
			Aliases: []string{"amex", "americanexpress"},
			Fields: map[string][]string{
				FieldPostedAt:    {"Date"},
				FieldMerchant:    {"Description"},
				FieldCategory:    {"Category"},
				FieldAmount:      {"Amount"},
				FieldDescription: {"Reference", "Description"},
			},
			// Card exports list charges as positive numbers.
			PositiveIsDebit: true,
		},
		{
			Name:    "Bank of America",
			Aliases: []string{"bofa", "bankofamerica"},
			Fields: map[string][]string{
				FieldPostedAt:    {"Date"},
				FieldMerchant:    {"Description"},
				FieldAmount:      {"Amount"},
				FieldDescription: {"Type", "Description"},
			},
		},
		{
			Name:    "Wells Fargo",
			Aliases: []string{"wellsfargo"},
			Fields: map[string][]string{
				FieldPostedAt:    {"Date"},
				FieldMerchant:    {"Description"},
				FieldAmount:      {"Amount"},
				FieldDescription: {"Type", "Description"},
			},
		},
		{
			Name: GenericName,
			Fields: map[string][]string{
				FieldPostedAt:    {"Date", "Posted Date", "Transaction Date", "posted_at"},
				FieldMerchant:    {"Merchant", "Description", "Payee", "merchant_raw"},
				FieldDescription: {"Memo", "Description", "description"},
				FieldAmount:      {"Amount", "amount"},
				FieldCategory:    {"Category", "category_raw"},
				FieldCurrency:    {"Currency", "currency"},
				FieldAccountID:   {"Account", "Account ID", "account_id"},
			},
		},
	}
}
