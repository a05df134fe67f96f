package domain

// Uncategorized is the fallback category for records the model could not place.
const Uncategorized = "Uncategorized"

// DefaultCategories is the label set offered to the model when none is configured.
var DefaultCategories = []string{
	"Rent",
	"Groceries",
	"Dining",
	"Transport",
	"Utilities",
	"Subscriptions",
	"Entertainment",
	"Health",
	"Travel",
	"Shopping",
	"Investments",
	"Income",
	"Transfers",
	"Fees",
	"Misc",
	Uncategorized,
}
