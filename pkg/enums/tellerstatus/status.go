package tellerstatus

type Status struct {
	Name string
}

func (s Status) Code() string {
	return s.Name
}

type Enum struct {
	Available Status
	Busy      Status
	Away      Status
}

var Statuses = Enum{
	Available: Status{Name: "available"},
	Busy:      Status{Name: "busy"},
	Away:      Status{Name: "away"},
}

var All = []Status{
	Statuses.Available,
	Statuses.Busy,
	Statuses.Away,
}

// ByName returns the status for a given name, or nil if not found
func ByName(name string) *Status {
	for _, s := range All {
		if s.Name == name {
			return &s
		}
	}
	return nil
}
