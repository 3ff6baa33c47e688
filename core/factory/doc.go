// Package factory instantiates pluggable modules (store backends, metrics
// sinks, driver selectors) from configuration. A module is named by a type
// string and configured by a raw map that its factory decodes with Decode.
//
//	reg := factory.NewRegistry[Selector]()
//	_ = reg.Register("round_robin", func(conf map[string]any) (Selector, error) {
//	    return NewRoundRobin(), nil
//	})
//	sel, err := reg.Create(factory.ModuleConfig{Type: "round_robin"})
package factory
