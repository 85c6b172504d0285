package models

// All lists every persisted model in migration order.
var All = []interface{}{
	&Job{},
	&Device{},
	&Run{},
	&RunDevice{},
	&Event{},
}
