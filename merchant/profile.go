package merchant

const TableMerchants = "merchants"

// merchant profile row for the signed-in user
func FetchMerchant(store RemoteStore, userId Id) (*Merchant, error) {
	result, err := store.FetchAllSync(&FetchAllArgs{
		Table: TableMerchants,
		Filter: Filter{
			"user_id": userId.String(),
		},
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	records, err := DecodeRecords[*Merchant](result)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, &NotFoundError{Table: TableMerchants}
	}
	return records[0], nil
}
