package priority

type Priority struct {
	Name string
	// Rank orders tickets: lower ranks are served first.
	Rank int
}

func (p Priority) Code() string {
	return p.Name
}

type Enum struct {
	Expedited Priority
	Standard  Priority
}

var Priorities = Enum{
	Expedited: Priority{Name: "expedited", Rank: 0},
	Standard:  Priority{Name: "standard", Rank: 1},
}

var All = []Priority{
	Priorities.Expedited,
	Priorities.Standard,
}

// ByName returns the priority for a given name, or nil if not found
func ByName(name string) *Priority {
	for _, p := range All {
		if p.Name == name {
			return &p
		}
	}
	return nil
}

// RankOf returns the rank for name. Unknown names rank with standard tickets.
func RankOf(name string) int {
	if p := ByName(name); p != nil {
		return p.Rank
	}
	return Priorities.Standard.Rank
}
