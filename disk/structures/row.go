package structures

// Row corresponds to each record in a table at the lowest level. It does not care about its
// content and sees it as a byte array only. It has a Rid which is unique for every row and acts
// as an address for the row.
type Row struct {
	Data []byte
	Rid  Rid
}

func (r *Row) GetData() []byte {
	return r.Data
}

func (r *Row) GetRid() Rid {
	return r.Rid
}

func (r *Row) Length() int {
	return len(r.Data)
}
