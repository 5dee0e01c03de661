// Package bootstrap runs stagekit commands with a uniform lifecycle.
//
// An App owns the typed config, the logger, and a component registry. Run
// serves until a shutdown signal; RunTask executes a finite job such as a
// pipeline run and shuts down when it returns.
//
//	app, err := bootstrap.NewApp(cfg)
//	if err != nil {
//	    return err
//	}
//	app.RegisterComponent(monitorServer)
//	return app.RunTask(ctx, func(ctx context.Context) error {
//	    _, err := pipeline.Run(ctx, builder)
//	    return err
//	})
//
// Components start in registration order and stop in reverse. The startup
// summary lists components, tracked pipelines and routes, and live health.
package bootstrap
