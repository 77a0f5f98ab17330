package rules

import "github.com/effaaykhan/Data-Loss-Prevention/pkg/models"

// fieldAliases maps policy rule field names to the event attribute names
// tried in order. A field absent from the table is looked up verbatim.
var fieldAliases = map[string][]string{
	"event_type":        {"event_type", "type"},
	"event_subtype":     {"subtype", "event_subtype"},
	"severity":          {"severity"},
	"file_path":         {"file_path", "path"},
	"file_name":         {"file_name", "name"},
	"file_extension":    {"file_extension", "extension"},
	"file_size":         {"file_size", "size_bytes"},
	"clipboard_content": {"clipboard_content", "content"},
	"usb_event_type":    {"usb_action"},
	"source_path":       {"source_path"},
	"destination_path":  {"destination_path", "destination"},
	"destination_type":  {"destination_type"},
	"source":            {"source"},
	"connection_id":     {"connection_id"},
	"folder_id":         {"folder_id"},
	"process_name":      {"process_name", "process"},
	"hostname":          {"hostname"},
	"username":          {"username", "user"},
}

// lookupField resolves a rule field against the event, trying each alias
// candidate on the typed envelope first and the free-form metadata second.
func lookupField(event *models.Event, field string) (any, bool) {
	candidates, ok := fieldAliases[field]
	if !ok {
		candidates = []string{field}
	}
	for _, name := range candidates {
		if v, found := event.Field(name); found {
			return v, true
		}
		if event.Metadata != nil {
			if v, found := event.Metadata[name]; found && v != nil {
				return v, true
			}
		}
	}
	return nil, false
}
