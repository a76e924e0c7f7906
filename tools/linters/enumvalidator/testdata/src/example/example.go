package example

type Category string

const (
	CategoryBugReport Category = "bug_report"
	CategoryQuestion  Category = "question"
)

type TicketStatus string

const (
	TicketStatusOpen   TicketStatus = "open"
	TicketStatusClosed TicketStatus = "closed"
)

type Ticket struct {
	Title    string
	Category Category
	Status   TicketStatus
}

func bad() {
	t := &Ticket{}
	t.Status = "resolved" // want "enum field Status assigned string literal"
	t.Category = "bug"    // want "enum field Category assigned string literal"

	_ = Ticket{Status: "open"} // want "enum field Status initialized with string literal"
}

func good() {
	t := &Ticket{Title: "checkout fails"}
	t.Status = TicketStatusClosed
	t.Category = CategoryQuestion

	_ = Ticket{Status: TicketStatusOpen, Category: CategoryBugReport}
}

func alsoGood() {
	status := TicketStatusOpen
	t := &Ticket{Status: status}
	_ = t
}
