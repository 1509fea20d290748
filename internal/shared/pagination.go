package shared

// Page bounds a listing query.
type Page struct {
	Limit  int
	Offset int
}

// Normalize clamps the limit into [1, 200] with a default of 50.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > 200 {
		p.Limit = 200
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
