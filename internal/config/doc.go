// Package config provides the configuration model for govgate.
//
// Configuration is read from a YAML file with environment variable
// substitution, checked with struct tag and semantic validation, and
// optionally watched for changes so that rate-limit classes and security
// header overrides can be re-applied without a restart.
//
// # Configuration Loading
//
//	cfg, err := config.Load("govgate.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Values of the form ${VAR} and ${VAR:-default} are replaced with the
// environment before parsing; a literal dollar sign is written as $$.
// Every field omitted from the file keeps its value from Default.
//
// # File Watching
//
//	watcher, err := config.NewWatcher(path, func(cfg *config.Config) {
//	    // re-apply runtime settings
//	}, config.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	_ = watcher.Start(ctx)
package config
