// -- cmd/run.go --
package cmd

import (
	"fmt"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/voidwalker9k/pagepilot/api/schemas"
	"github.com/voidwalker9k/pagepilot/internal/browser"
	"github.com/voidwalker9k/pagepilot/internal/config"
	"github.com/voidwalker9k/pagepilot/internal/observability"
	"github.com/voidwalker9k/pagepilot/internal/runner"
	"github.com/voidwalker9k/pagepilot/internal/vision"
)

var runFlags struct {
	goal            string
	url             string
	taskType        string
	accountEmail    string
	accountPassword string
	accountSecret   string
	params          []string
	maxSteps        int
	wsURL           string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one browser automation task to completion.",
	Long: `Run opens a browser session, hands the goal to the vision model, and
executes the decided actions until the model reports an outcome or the
step budget is spent. The task result is printed as JSON on stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()
		cfg := runConfig()

		params, err := parseParams(runFlags.params)
		if err != nil {
			return err
		}

		task := schemas.TaskContext{
			Goal:          runFlags.goal,
			StartURL:      runFlags.url,
			NavigateFirst: runFlags.url != "",
			TaskType:      runFlags.taskType,
			Account:       buildAccount(),
			Params:        params,
			MaxSteps:      runFlags.maxSteps,
		}
		if err := task.Validate(); err != nil {
			return err
		}

		client, err := vision.NewClient(cfg.Vision, cfg.Agent.HistoryWindow, logger)
		if err != nil {
			return fmt.Errorf("failed to build decision client: %w", err)
		}
		throttled := vision.NewThrottled(client, cfg.Vision.RateLimitRPS, cfg.Vision.RateBurst)

		ctx := cmd.Context()
		session, err := browser.NewSession(ctx, cfg.Browser, logger)
		if err != nil {
			return fmt.Errorf("failed to open browser session: %w", err)
		}
		defer func() {
			if cerr := session.Close(ctx); cerr != nil {
				logger.Warn("Browser session close failed", zap.Error(cerr))
			}
		}()

		result := runner.New(throttled, &cfg, nil, logger).
			RunWithVerification(ctx, session, task)

		out, err := jsoniter.ConfigFastest.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		fmt.Fprintln(os.Stdout, string(out))

		if !result.Success {
			return fmt.Errorf("task ended in state %s: %s", result.State, result.Message)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runFlags.goal, "goal", "", "natural-language objective for the task (required)")
	runCmd.Flags().StringVar(&runFlags.url, "url", "", "start URL loaded before the first decision")
	runCmd.Flags().StringVar(&runFlags.taskType, "task-type", "", "specialized task template (replace_recovery_email, replace_recovery_phone, modify_2sv_phone, modify_authenticator)")
	runCmd.Flags().StringVar(&runFlags.accountEmail, "account-email", "", "account email surfaced to the model")
	runCmd.Flags().StringVar(&runFlags.accountPassword, "account-password", "", "account password surfaced to the model")
	runCmd.Flags().StringVar(&runFlags.accountSecret, "account-secret", "", "base32 TOTP secret for 2FA-protected accounts")
	runCmd.Flags().StringArrayVar(&runFlags.params, "param", nil, "auxiliary task parameter as key=value, repeatable")
	runCmd.Flags().IntVar(&runFlags.maxSteps, "max-steps", 20, "decision cycle budget")
	runCmd.Flags().StringVar(&runFlags.wsURL, "ws", "", "attach to a running browser over this CDP websocket URL")
	_ = runCmd.MarkFlagRequired("goal")
	rootCmd.AddCommand(runCmd)
}

// runConfig copies the loaded config so flag overrides stay local to
// this invocation.
func runConfig() config.Config {
	cfg := *appConfig
	if runFlags.wsURL != "" {
		cfg.Browser.WebSocketURL = runFlags.wsURL
	}
	return cfg
}

func buildAccount() map[string]string {
	account := make(map[string]string)
	if runFlags.accountEmail != "" {
		account["email"] = runFlags.accountEmail
	}
	if runFlags.accountPassword != "" {
		account["password"] = runFlags.accountPassword
	}
	if runFlags.accountSecret != "" {
		account["secret"] = runFlags.accountSecret
	}
	if len(account) == 0 {
		return nil
	}
	return account
}

func parseParams(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --param %q, expected key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}
