package normalize

import "regexp"

var (
	tokenPattern     = regexp.MustCompile(`[a-z0-9_]+(?:'[a-z]+)?`)
	errorCodePattern = regexp.MustCompile(`\b(?:\d{3,4}|err_[a-z0-9_]+)\b`)
	endpointPattern  = regexp.MustCompile(`(?:/api|/v\d+)(?:/[a-z0-9_\-.{}:]+)+`)
	hexColorPattern  = regexp.MustCompile(`#(?:[0-9a-f]{6}|[0-9a-f]{3})\b`)
	numericPattern   = regexp.MustCompile(`^\d+$`)
)

const (
	platformPrefix = "platform_"
	featurePrefix  = "feature_"
)

// Stop words are dropped from content words. Besides the usual function words the list
// carries generic complaint vocabulary ("broken", "still", "gives") so that two
// phrasings of the same report reduce to the same signal set.
var stopWords = toSet(
	"a", "about", "after", "again", "all", "also", "am", "an", "and", "any", "anyone",
	"are", "as", "at", "be", "because", "been", "before", "being", "but", "by", "can",
	"cannot", "can't", "could", "did", "didn't", "do", "does", "doesn't", "doing", "don't",
	"for", "from", "get", "gets", "getting", "give", "gives", "giving", "got", "had",
	"has", "have", "having", "hello", "help", "here", "hey", "how", "i", "i'm", "if", "in",
	"into", "is", "isn't", "it", "it's", "its", "just", "keep", "keeps", "know", "like",
	"look", "looks", "make", "me", "might", "more", "my", "need", "needs", "no", "not",
	"now", "of", "on", "once", "only", "or", "other", "our", "out", "over", "please",
	"same", "see", "seeing", "seems", "should", "so", "some", "someone", "still", "such",
	"than", "that", "the", "their", "them", "then", "there", "these", "they", "this",
	"those", "through", "to", "today", "too", "try", "trying", "tried", "under", "until",
	"up", "us", "very", "want", "wants", "was", "wasn't", "we", "were", "what", "when",
	"where", "which", "while", "who", "why", "will", "with", "won't", "would", "yet",
	"you", "your", "thanks", "thank", "team", "guys", "folks", "anybody", "something",
	"anything", "everything", "thing", "things", "broken", "break", "breaks", "error",
	"errors", "issue", "issues", "problem", "problems", "working", "work", "works",
	"happen", "happens", "happening", "happened", "currently", "again", "since", "already",
	"really", "every", "time", "times", "way", "able", "unable", "okay", "right", "wrong",
	"fine", "good", "bad", "weird", "strange", "asap", "urgent", "quick", "question",
)

// Common CRUD and styling verbs never stand in as the object of an intent.
var crudVerbs = toSet(
	"create", "read", "update", "delete", "add", "remove", "edit", "get", "set", "make",
	"change", "ensure", "fix", "show", "hide", "enable", "disable", "allow", "use",
)

// Each phrase contributes its individual words as signals.
var errorPhrases = []string{
	"permission denied",
	"access denied",
	"unauthorized",
	"forbidden",
	"not authorized",
	"timed out",
	"timeout",
	"rate limited",
	"invalid token",
	"session expired",
	"not found",
	"bad gateway",
	"service unavailable",
}

var roleKeywords = []string{
	"super admin", "superadmin", "admin", "administrator", "owner", "guest", "member",
	"viewer", "editor", "manager", "contributor", "moderator", "billing admin",
}

var permissionVerbs = []string{
	"access", "permission", "permissions", "grant", "revoke", "invite", "assign", "restrict",
	"rbac", "acl", "privilege", "privileges",
}

var objectKeywords = []string{
	"budget", "invoice", "invoices", "export", "import", "csv", "pdf", "report", "reports",
	"dashboard", "payment", "payments", "billing", "subscription", "account", "password",
	"login", "signup", "user", "users", "project", "workspace", "file", "upload", "download",
	"integration", "webhook", "notification", "notifications", "email", "calendar",
	"database", "settings", "profile", "receipt", "transaction", "order", "cart", "checkout",
	"api", "token", "attachment", "comment", "task", "ticket",
}

// UI components are checked before generic objects when choosing an intent object.
var uiComponents = []string{
	"button", "header", "footer", "navbar", "sidebar", "modal", "dialog", "dropdown", "menu",
	"link", "logo", "banner", "card", "table", "form", "input", "tab", "tabs", "icon",
	"tooltip", "checkbox", "toggle", "badge", "avatar", "background", "page", "screen",
}

var platformKeywords = []string{
	"ios", "android", "iphone", "ipad", "web", "mobile", "desktop", "safari", "chrome",
	"firefox", "edge", "windows", "macos", "mac", "linux",
}

var featureKeywords = []string{
	"dark mode", "light mode", "search", "filter", "filters", "sort", "pagination",
	"analytics", "sync", "onboarding", "two factor", "autocomplete", "bulk edit",
	"drag and drop", "reminders", "approvals",
}

var authTerms = []string{"oauth", "sso", "saml", "2fa", "mfa", "jwt", "ldap", "okta"}

var colorWords = toSet(
	"red", "blue", "green", "yellow", "orange", "purple", "pink", "black", "white", "gray",
	"grey", "brown", "teal", "navy", "color", "colour", "style", "font", "bold", "italic",
	"theme", "dark", "light", "transparent",
)

var styleVerbs = []string{"make", "set", "change", "ensure", "update"}

var synonyms = map[string]string{
	"rbac":          "access_control",
	"acl":           "access_control",
	"super admin":   "superadmin",
	"super_admin":   "superadmin",
	"administrator": "admin",
	"permissions":   "permission",
	"perms":         "permission",
	"privilege":     "permission",
	"privileges":    "permission",
	"log in":        "login",
	"signin":        "login",
	"sign in":       "login",
	"logon":         "login",
	"2fa":           "mfa",
	"two factor":    "mfa",
	"e-mail":        "email",
	"colour":        "color",
	"grey":          "gray",
	"invoices":      "invoice",
	"reports":       "report",
	"payments":      "payment",
	"users":         "user",
	"notifications": "notification",
	"filters":       "filter",
	"iphone":        "ios",
	"ipad":          "ios",
	"mac":           "macos",
}

var bugCues = []string{
	"bug", "broken", "crash", "crashes", "crashed", "crashing", "error", "errors", "fail",
	"fails", "failed", "failing", "failure", "exception", "not working", "doesn't work",
	"does not work", "isn't working", "stopped working", "500", "404", "blank page",
	"stuck", "hangs", "freezes", "timed out", "timeout",
}

var accessCues = []string{
	"permission", "permissions", "access", "rbac", "role", "roles", "unauthorized",
	"forbidden", "access denied", "permission denied", "can't see", "cannot see",
	"grant", "revoke", "privilege", "admin rights",
}

var featureCues = []string{
	"add", "feature request", "would be nice", "would be great", "can we have",
	"could we have", "support for", "ability to", "allow", "new option", "wish",
	"it'd be nice", "please add",
}

func toSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
