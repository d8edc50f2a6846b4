// Package logging provides structured logging for pcdimport.
//
// # Overview
//
// The package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Automatic context field injection (trace_id, run.id, task.id, dataset.name)
//   - Secret redaction in the encoder
//   - Level-aware sampling (errors never sampled)
//
// Logs go to stderr by default so stdout stays free for command output.
//
// # Usage
//
//	cfg, err := logging.NewConfig("info", "console")
//	if err != nil {
//	    return err
//	}
//	logger, err := logging.NewLogger(cfg)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRunID(ctx, runID)
//	ctx = logging.WithDataset(ctx, "ds1")
//	logger.Info(ctx, "dataset created", zap.Int("dataset_id", id))
//
// # Testing
//
//	logger := logging.NewTestLogger()
//	importer.New(client, logger.Logger, cfg)
//	logger.AssertLogged(t, zapcore.WarnLevel, "frame has no point cloud")
package logging
