package meta

// Sample database table ids.
const (
	SampleDatabaseID int64 = 1

	ProductsID int64 = 1
	OrdersID   int64 = 2
	PeopleID   int64 = 3
)

// Sample database field ids.
const (
	ProductsIDField  int64 = 21
	ProductsTitle    int64 = 22
	ProductsCategory int64 = 23
	ProductsPrice    int64 = 24
	ProductsRating   int64 = 25
	ProductsCreated  int64 = 26
	ProductsVendor   int64 = 27

	OrdersIDField   int64 = 11
	OrdersUserID    int64 = 12
	OrdersProductID int64 = 13
	OrdersSubtotal  int64 = 14
	OrdersTax       int64 = 15
	OrdersTotal     int64 = 16
	OrdersDiscount  int64 = 17
	OrdersCreatedAt int64 = 18
	OrdersQuantity  int64 = 19

	PeopleIDField   int64 = 31
	PeopleName      int64 = 32
	PeopleEmail     int64 = 33
	PeopleCity      int64 = 34
	PeopleState     int64 = 35
	PeopleLatitude  int64 = 36
	PeopleLongitude int64 = 37
	PeopleBirthDate int64 = 38
	PeopleCreatedAt int64 = 39
	PeopleSource    int64 = 40
)

// SampleSpec returns the snapshot spec of the bundled sample database
// declaring exactly the given features.
func SampleSpec(features ...Feature) SnapshotSpec {
	names := make([]string, 0, len(features))
	for _, f := range features {
		names = append(names, string(f))
	}
	return SnapshotSpec{
		Database: DatabaseSpec{
			ID:       SampleDatabaseID,
			Name:     "Sample Database",
			Engine:   "duckdb",
			Features: names,
		},
		Tables: []TableSpec{
			{
				ID: ProductsID, Schema: "main", Name: "PRODUCTS",
				Fields: []FieldSpec{
					{ID: ProductsIDField, Name: "ID", BaseType: string(TypeBigInteger), SemanticType: string(SemanticPK)},
					{ID: ProductsTitle, Name: "TITLE", BaseType: string(TypeText)},
					{ID: ProductsCategory, Name: "CATEGORY", BaseType: string(TypeText), SemanticType: string(SemanticCategory)},
					{ID: ProductsPrice, Name: "PRICE", BaseType: string(TypeFloat)},
					{ID: ProductsRating, Name: "RATING", BaseType: string(TypeFloat)},
					{ID: ProductsCreated, Name: "CREATED_AT", BaseType: string(TypeDateTime)},
					{ID: ProductsVendor, Name: "VENDOR", BaseType: string(TypeText)},
				},
			},
			{
				ID: OrdersID, Schema: "main", Name: "ORDERS",
				Fields: []FieldSpec{
					{ID: OrdersIDField, Name: "ID", BaseType: string(TypeBigInteger), SemanticType: string(SemanticPK)},
					{ID: OrdersUserID, Name: "USER_ID", BaseType: string(TypeInteger), SemanticType: string(SemanticFK), FKTarget: PeopleIDField},
					{ID: OrdersProductID, Name: "PRODUCT_ID", BaseType: string(TypeInteger), SemanticType: string(SemanticFK), FKTarget: ProductsIDField},
					{ID: OrdersSubtotal, Name: "SUBTOTAL", BaseType: string(TypeFloat)},
					{ID: OrdersTax, Name: "TAX", BaseType: string(TypeFloat)},
					{ID: OrdersTotal, Name: "TOTAL", BaseType: string(TypeFloat)},
					{ID: OrdersDiscount, Name: "DISCOUNT", BaseType: string(TypeFloat)},
					{ID: OrdersCreatedAt, Name: "CREATED_AT", BaseType: string(TypeDateTime)},
					{ID: OrdersQuantity, Name: "QUANTITY", BaseType: string(TypeInteger)},
				},
			},
			{
				ID: PeopleID, Schema: "main", Name: "PEOPLE",
				Fields: []FieldSpec{
					{ID: PeopleIDField, Name: "ID", BaseType: string(TypeBigInteger), SemanticType: string(SemanticPK)},
					{ID: PeopleName, Name: "NAME", BaseType: string(TypeText)},
					{ID: PeopleEmail, Name: "EMAIL", BaseType: string(TypeText)},
					{ID: PeopleCity, Name: "CITY", BaseType: string(TypeText)},
					{ID: PeopleState, Name: "STATE", BaseType: string(TypeText), SemanticType: string(SemanticCategory)},
					{ID: PeopleLatitude, Name: "LATITUDE", BaseType: string(TypeFloat), SemanticType: string(SemanticLatitude)},
					{ID: PeopleLongitude, Name: "LONGITUDE", BaseType: string(TypeFloat), SemanticType: string(SemanticLongitude)},
					{ID: PeopleBirthDate, Name: "BIRTH_DATE", BaseType: string(TypeDate)},
					{ID: PeopleCreatedAt, Name: "CREATED_AT", BaseType: string(TypeDateTime)},
					{ID: PeopleSource, Name: "SOURCE", BaseType: string(TypeText), SemanticType: string(SemanticCategory)},
				},
			},
		},
		Cards: []CardSpec{
			{
				ID: 1, Name: "Orders by month",
				Columns: []CardColumnSpec{
					{Name: "CREATED_AT", DisplayName: "Created At: Month", BaseType: string(TypeDateTime)},
					{Name: "count", DisplayName: "Count", BaseType: string(TypeBigInteger)},
				},
			},
		},
	}
}

// SampleDatabase returns the sample snapshot declaring the given features.
func SampleDatabase(features ...Feature) *Snapshot {
	s, err := NewSnapshot(SampleSpec(features...))
	if err != nil {
		// The bundled spec is static; failing here is a programming error.
		panic(err)
	}
	return s
}
