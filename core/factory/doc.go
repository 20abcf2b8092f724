// Package factory instantiates pluggable modules (result sinks, run stores)
// from configuration. A module is described by a type name and a map of raw
// settings; the registered factory decodes the settings into its own typed
// struct using json tags.
//
//	reg := factory.NewRegistry[store.Store]()
//	reg.Register("jsonl", func(conf map[string]any) (store.Store, error) {
//	    var c struct{ Path string `json:"path"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return jsonl.Open(c.Path)
//	})
//	s, err := reg.Create(factory.ModuleConfig{Type: "jsonl", Conf: map[string]any{"path": "runs.jsonl"}})
package factory
