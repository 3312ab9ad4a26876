package app

import (
	"regexp"

	"github.com/wirehub/wirehub/pkg/hub"
)

var (
	emailPattern    = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,4}$`)
	usernamePattern = regexp.MustCompile(`^[a-z][a-z0-9]{2,11}$`)
)

// usernamesNotAllowed are reserved: "user" is the placeholder account name
// and "all" is the broadcast address.
var usernamesNotAllowed = []string{"user", "all"}

// check panics with a validation code when the condition fails; the hub's
// dispatch recovery turns the panic into the reply's e.
func check(cond bool, code string) {
	if !cond {
		panic(code)
	}
}

// requireString validates presence and type of a string field and returns it.
func requireString(event hub.Event, key string) string {
	_, present := event[key]
	check(present, "missing:"+key)
	value, ok := event[key].(string)
	check(ok, "typeof:"+key)
	return value
}

// requirePattern validates a string field against a pattern.
func requirePattern(event hub.Event, key string, pattern *regexp.Regexp) string {
	value := requireString(event, key)
	check(pattern.MatchString(value), "regexp:"+key)
	return value
}
