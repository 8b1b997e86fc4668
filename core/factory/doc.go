// Package factory provides a small generic registry used to instantiate
// pluggable modules, such as metrics sinks, from configuration. A module is
// described by a type string and a map of raw settings; the registered
// factory decodes the settings into a typed struct and returns the concrete
// implementation.
//
//	reg := factory.NewRegistry[metrics.Sink]()
//	reg.Register("influx", func(conf map[string]any) (metrics.Sink, error) {
//	    var c influxConf
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return newInflux(c), nil
//	})
//	s, err := reg.Create(factory.ModuleConfig{Type: "influx", Conf: raw})
package factory
