package store

import (
	"github.com/kilianp07/microgrid/core/factory"
	corestore "github.com/kilianp07/microgrid/core/store"
)

// init registers the built-in run stores.
func init() {
	_ = corestore.RegisterStore("jsonl", func(conf map[string]any) (corestore.Store, error) {
		var c JSONLConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewJSONLStore(c)
	})
	_ = corestore.RegisterStore("sqlite", func(conf map[string]any) (corestore.Store, error) {
		var c SQLiteConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewSQLiteStore(c)
	})
}
