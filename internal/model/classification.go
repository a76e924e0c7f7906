package model

type Category string

const (
	CategoryBugReport       Category = "bug_report"
	CategorySupportQuestion Category = "support_question"
	CategoryFeatureRequest  Category = "feature_request"
	CategoryProductQuestion Category = "product_question"
	CategoryIrrelevant      Category = "irrelevant"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryBugReport, CategorySupportQuestion, CategoryFeatureRequest, CategoryProductQuestion, CategoryIrrelevant:
		return true
	}
	return false
}

// Classification is the relevance judgment for a single message.
type Classification struct {
	IsRelevant        bool     `json:"is_relevant"`
	Category          Category `json:"category"`
	Confidence        float64  `json:"confidence"`
	ShortTitle        string   `json:"short_title"`
	Signals           []string `json:"signals"`
	InferredAssignees []string `json:"inferred_assignees"`
}
