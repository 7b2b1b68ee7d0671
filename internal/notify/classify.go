// Package notify tracks transient UI notifications (alerts, toasts and
// snackbars) reported by the page and follows their visibility over time.
package notify

import "regexp"

// Kind of notification.
type Kind string

const (
	KindAlert Kind = "alert"
	KindToast Kind = "toast"
	KindSnack Kind = "snack"
)

var (
	alertToken    = regexp.MustCompile(`\balert\b`)
	alertSeverity = regexp.MustCompile(`\balert-(success|info|warning|error|danger)\b`)
	toastToken    = regexp.MustCompile(`\b(toast|ngx-toastr)\b`)
	toastSeverity = regexp.MustCompile(`\btoast-(success|info|warning|error|danger)\b`)
	snackToken    = regexp.MustCompile(`\b(snackbar|snack-bar|mat-snack-bar-container|mat-mdc-snack-bar-container)\b`)
	snackSeverity = regexp.MustCompile(`\b(?:snackbar|snack-bar)-(success|info|warning|error|danger)\b`)
)

// Classification is the result of matching a class attribute.
type Classification struct {
	Kind     Kind
	Class    string // the matched class, e.g. "alert-danger"
	Severity string // success, info, warning, error, danger; may be empty for snacks
}

// Classify inspects a class attribute. Alerts and toasts need their token and
// exactly one severity class; snackbars accept zero or one severity class.
// The first token found decides the kind: an element carrying "alert"
// without a single severity class is not reconsidered as a toast.
func Classify(className string) (Classification, bool) {
	switch {
	case alertToken.MatchString(className):
		return withSeverity(KindAlert, className, alertSeverity, false)
	case toastToken.MatchString(className):
		return withSeverity(KindToast, className, toastSeverity, false)
	case snackToken.MatchString(className):
		return withSeverity(KindSnack, className, snackSeverity, true)
	}
	return Classification{}, false
}

func withSeverity(kind Kind, className string, severity *regexp.Regexp, optional bool) (Classification, bool) {
	matches := severity.FindAllStringSubmatch(className, -1)
	switch {
	case len(matches) == 1:
		return Classification{Kind: kind, Class: matches[0][0], Severity: matches[0][1]}, true
	case len(matches) == 0 && optional:
		return Classification{Kind: kind, Class: snackToken.FindString(className)}, true
	}
	return Classification{}, false
}
