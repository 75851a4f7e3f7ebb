package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/davidahmann/afaap/internal/gate"
	"github.com/davidahmann/afaap/internal/policy"
	"github.com/davidahmann/afaap/internal/risk"
	"github.com/davidahmann/afaap/pkg/types"
)

const defaultAddr = "http://localhost:8080"

func main() {
	exitFn(run(os.Args, os.Stdout, os.Stderr))
}

var exitFn = os.Exit

// exitCode carries a non-zero exit status that is not a usage error.
type exitCode int

func (c exitCode) Error() string { return fmt.Sprintf("exit %d", int(c)) }

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args[1:])
	err := root.Execute()
	if err == nil {
		return 0
	}
	var code exitCode
	if errors.As(err, &code) {
		return int(code)
	}
	var usage usageError
	if errors.As(err, &usage) {
		return 2
	}
	fmt.Fprintln(stderr, err.Error())
	return 1
}

type usageError struct{ error }

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "afaap",
		Short:         "Fraud decision governance CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          exactArgs(0, "unknown command"),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(cmd.ErrOrStderr(), cmd.UsageString())
			return usageError{errors.New("missing command")}
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		fmt.Fprintln(stderr, err.Error())
		_ = cmd.Usage()
		return usageError{err}
	})

	root.AddCommand(newVerifyCmd(), newPolicyCmd(), newGateCmd(), newSLACmd())
	return root
}

type clientFlags struct {
	addr  string
	token string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.addr, "addr", envOrDefault("AFAAP_ADDR", defaultAddr), "gateway address")
	cmd.Flags().StringVar(&f.token, "token", envOrDefault("AFAAP_TOKEN", os.Getenv("AFAAP_DEV_TOKEN")), "bearer token")
}

func exactArgs(n int, msg string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			fmt.Fprintln(cmd.ErrOrStderr(), msg)
			_ = cmd.Usage()
			return usageError{errors.New(msg)}
		}
		return nil
	}
}

func newVerifyCmd() *cobra.Command {
	var client clientFlags
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "verify <table> <subject_id>",
		Short: "Verify one ledger chain through the gateway",
		Args:  exactArgs(2, "verify requires <table> <subject_id>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/ledger/" + url.PathEscape(args[0]) + "/" + url.PathEscape(args[1]) + "/verify"
			body, status, err := httpGet(http.DefaultClient, client.addr+path, client.token)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("verify failed: %s", strings.TrimSpace(string(body)))
			}

			var res types.VerifyResult
			if err := json.Unmarshal(body, &res); err != nil {
				return fmt.Errorf("invalid response: %w", err)
			}
			if jsonOut {
				_, _ = cmd.OutOrStdout().Write(body)
			} else if res.Valid {
				fmt.Fprintf(cmd.OutOrStdout(), "valid=true %s/%s entries=%d\n", res.SubjectTable, res.SubjectID, res.Entries)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "valid=false %s/%s broken_at=%s reason=%s\n", res.SubjectTable, res.SubjectID, res.BrokenAt, res.Reason)
			}
			if !res.Valid {
				return exitCode(1)
			}
			return nil
		},
	}
	client.register(cmd)
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print raw JSON response")
	return cmd
}

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Governance policy tools",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "lint <policy_path>",
		Short: "Load and validate a policy file",
		Args:  exactArgs(1, "policy lint requires <policy_path>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := policy.LoadPolicy(args[0], policy.Overrides{})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok policy_id=%s policy_hash=%s\n", loaded.Policy.PolicyID, loaded.Hash)
			return nil
		},
	})
	return cmd
}

func newGateCmd() *cobra.Command {
	var policyPath string
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "gate <model.yaml>",
		Short: "Evaluate the deployment gate locally without writing to the ledger",
		Args:  exactArgs(1, "gate requires <model.yaml>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, err := loadModel(args[0])
			if err != nil {
				return err
			}
			loaded, err := policy.LoadPolicy(policyPath, policy.Overrides{})
			if err != nil {
				return err
			}

			result := gate.Evaluate(model, loaded)
			out := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return err
				}
			} else if result.Admitted {
				fmt.Fprintf(out, "admitted model_id=%s policy_hash=%s\n", result.ModelID, result.PolicyHash)
			} else {
				fmt.Fprintf(out, "blocked model_id=%s policy_hash=%s\n", result.ModelID, result.PolicyHash)
				for _, c := range result.FailingCriteria {
					fmt.Fprintf(out, "  - %s\n", c)
				}
			}
			if !result.Admitted {
				return exitCode(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&policyPath, "policy", "", "policy file (defaults when empty)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the verdict as JSON")
	return cmd
}

func loadModel(path string) (types.Model, error) {
	// #nosec G304 -- path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Model{}, err
	}
	var model types.Model
	if err := yaml.Unmarshal(data, &model); err != nil {
		return types.Model{}, fmt.Errorf("parse model: %w", err)
	}
	if model.ModelID == "" {
		return types.Model{}, fmt.Errorf("parse model: model_id is required")
	}
	return model, nil
}

func newSLACmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sla",
		Short: "Review SLA tools",
	}

	var client clientFlags
	violations := &cobra.Command{
		Use:   "violations",
		Short: "List overdue and late-reviewed decisions",
		Args:  exactArgs(0, "sla violations takes no arguments"),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, status, err := httpGet(http.DefaultClient, client.addr+"/v1/sla/violations", client.token)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("sla violations failed: %s", strings.TrimSpace(string(body)))
			}
			var payload struct {
				Violations []risk.Violation `json:"violations"`
			}
			if err := json.Unmarshal(body, &payload); err != nil {
				return fmt.Errorf("invalid response: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(payload.Violations) == 0 {
				fmt.Fprintln(out, "no violations")
				return nil
			}
			for _, v := range payload.Violations {
				fmt.Fprintf(out, "%s decision_id=%s risk_tier=%s sla_deadline=%s\n", v.Kind, v.DecisionID, v.Tier, v.Deadline.Format("2006-01-02T15:04:05Z07:00"))
			}
			return nil
		},
	}
	client.register(violations)
	cmd.AddCommand(violations)
	return cmd
}

func httpGet(client *http.Client, url string, token string) ([]byte, int, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func envOrDefault(key string, fallback string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallback
}
