package schedule

// DefaultRules returns the built-in western-zone coverage map, used when no
// rules file is configured. Deployments are expected to supply their own file.
func DefaultRules() *Rules {
	r, err := NewRules(Rules{
		DayRules: []DayRule{
			{Localities: []string{"ituzaingo"}, Weekdays: []string{"lunes"}},
			{Localities: []string{"merlo", "padua"}, Weekdays: []string{"martes", "viernes"}},
			{Localities: []string{"tesei", "hurlingham"}, Weekdays: []string{"miercoles", "sabado"}},
			{Localities: []string{"castelar"}, Weekdays: []string{"jueves"}},
		},
		Branches: []BranchRule{
			{Localities: []string{"ituzaingo", "castelar"}, Code: "CASTELAR", Address: "Arias 2530, Castelar"},
			{Localities: []string{"tesei", "hurlingham"}, Code: "TESEI", Address: "Concepción Arenal 2890, Villa Tesei"},
			{Localities: []string{"merlo", "padua"}, Code: "MERLO", Address: "Jujuy 845, Merlo"},
		},
		DefaultWeekdays:   []string{"lunes"},
		DefaultBranchCode: "CASTELAR",
		HomeVisitCapacity: 12,
	})
	if err != nil {
		panic(err)
	}
	return r
}
