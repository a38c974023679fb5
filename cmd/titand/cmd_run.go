package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"titanfabric/internal/bus"
	"titanfabric/internal/config"
	"titanfabric/internal/policy"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the fabric: connect, reconcile topology, serve handshakes",
	RunE:  runFabric,
}

func runFabric(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr, err := config.NewManager(configDir, envTag)
	if err != nil {
		return err
	}
	brain, res, err := mgr.LoadBrain(nil)
	if err != nil {
		return err
	}
	for _, warning := range res.Warnings {
		logger.Sugar().Warnf("brain config: %s", warning)
	}
	if err := mgr.StartWatch(ctx); err != nil {
		return err
	}
	defer mgr.StopWatch()

	client := bus.New(bus.Options{URL: natsURL}.FromEnv())
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	// The served policy hash digests the live brain config, so a divergent
	// rollout fails the handshake instead of trading.
	hashSource := func() (string, string) {
		return policyHash(mgr), config.BrainKey
	}
	if _, err := policy.StartResponder(client, hashSource); err != nil {
		return err
	}
	if _, err := client.StartDLQMonitor(); err != nil {
		return err
	}

	logger.Sugar().Infow("fabric running",
		"env", mgr.Env(),
		"maxTotalLeverage", brain.MaxTotalLeverage,
	)

	<-ctx.Done()
	logger.Sugar().Info("shutting down")
	return nil
}

// policyHash is the content hash of the latest accepted brain config
// version, which digests its canonical JSON rendering. Audit records of
// rejected reloads are skipped.
func policyHash(mgr *config.Manager) string {
	versions, err := mgr.History().GetAllVersions(config.TypeBrain, config.BrainKey)
	if err != nil {
		return ""
	}
	for i := len(versions) - 1; i >= 0; i-- {
		rejected := false
		for _, tag := range versions[i].Tags {
			rejected = rejected || tag == "reload-rejected"
		}
		if !rejected {
			return versions[i].Hash
		}
	}
	return ""
}
