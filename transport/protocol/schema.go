package protocol

import (
	"reflect"

	"github.com/invopop/jsonschema"
)

var messageTypes = map[string]any{
	"register":          RegisterRequest{},
	"update":            UpdateRequest{},
	"heartbeat":         HeartbeatRequest{},
	"registered":        Registered{},
	"name_conflict":     NameConflict{},
	"uuid_not_found":    UUIDNotFound{},
	"username_required": UsernameRequired{},
	"correction":        Correction{},
	"offline":           Offline{},
	"removed":           Removed{},
	"snapshot":          Snapshot{},
}

// Schemas returns a JSON schema for every wire message keyed by its name
func Schemas() map[string]*jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}

	out := make(map[string]*jsonschema.Schema, len(messageTypes))
	for name, v := range messageTypes {
		s := reflector.ReflectFromType(reflect.TypeOf(v))
		s.Version = ""
		s.Title = name
		out[name] = s
	}
	return out
}
