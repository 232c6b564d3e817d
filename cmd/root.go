package cmd

import (
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	sim "github.com/triage-sim/triage-sim/sim"
	"github.com/triage-sim/triage-sim/sim/workload"
)

var (
	// Simulation flags
	seed           int64   // Seed for all random sampling
	servers        int     // Number of treatment servers
	horizonMin     float64 // External horizon override (minutes); engine takes max with computed bound
	logLevel       string  // Log verbosity level
	encountersPath string  // Encounter batch CSV path
	classFilter    string  // Keep only this encounter class
	limit          int     // Max encounters after sorting
	poissonRate    float64 // Re-draw arrivals as a Poisson process at this rate (per minute)

	// Triage policy flags
	policyName    string // "rules" or "agent"
	catalogPath   string // Priority catalog YAML; empty uses built-in defaults
	triageCfgPath string // Keyword/class rule YAML; empty uses built-in defaults

	// Agent policy flags
	agentModel     string // Model name for the generate endpoint
	agentURL       string // Base URL of the generate endpoint
	agentTimeout   int    // Per-request timeout in seconds
	agentRetries   int    // HTTP attempt budget
	agentMockMode  string // "", "cycle", "p1".."p5"
	telemetryPath  string // JSONL decision telemetry path; empty disables
	outputPath     string // Report output path; empty prints to stdout
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "triage-sim",
	Short: "Discrete-event simulator for emergency-department triage policies",
}

// runCmd executes one simulation run using parameters from CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the triage simulation",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		if encountersPath == "" {
			logrus.Fatalf("Encounters CSV not provided. Exiting simulation.")
		}

		catalog := sim.DefaultCatalog()
		if catalogPath != "" {
			catalog, err = sim.LoadCatalog(catalogPath)
			if err != nil {
				logrus.Fatalf("Loading priority catalog: %v", err)
			}
		}

		triageCfg := sim.DefaultTriageConfig()
		if triageCfgPath != "" {
			triageCfg, err = sim.LoadTriageConfig(triageCfgPath, catalog)
			if err != nil {
				logrus.Fatalf("Loading triage config: %v", err)
			}
		}

		encounters, err := workload.LoadEncounters(encountersPath, workload.LoadOptions{
			ClassFilter: classFilter,
			Limit:       limit,
		})
		if err != nil {
			logrus.Fatalf("Loading encounters: %v", err)
		}
		if len(encounters) == 0 {
			logrus.Fatalf("No encounters matched (filter=%q)", classFilter)
		}

		rng := sim.NewPartitionedRNG(sim.NewSimulationKey(seed))
		if poissonRate > 0 {
			if err := workload.AssignPoissonArrivals(encounters, poissonRate, rng.ForSubsystem(sim.SubsystemWorkload)); err != nil {
				logrus.Fatalf("Assigning Poisson arrivals: %v", err)
			}
		}

		agentCfg := sim.AgentConfig{
			Model:    agentModel,
			BaseURL:  agentURL,
			Timeout:  time.Duration(agentTimeout) * time.Second,
			Retries:  agentRetries,
			Options:  triageCfg.AgentOptions,
			MockMode: agentMockMode,
		}
		policy, err := sim.NewTriagePolicy(policyName, catalog, triageCfg, agentCfg, rng.ForSubsystem(sim.SubsystemTriage))
		if err != nil {
			logrus.Fatalf("Creating triage policy: %v", err)
		}

		telemetry := sim.NewTelemetryWriter(telemetryPath)
		runID := telemetry.RunID()
		if runID == "" {
			runID = uuid.NewString()
		}

		simulator, err := sim.NewSimulator(servers, policy, telemetry)
		if err != nil {
			logrus.Fatalf("Creating simulator: %v", err)
		}

		logrus.Infof("Starting run %s: policy=%s servers=%d encounters=%d seed=%d",
			runID, policyName, servers, len(encounters), seed)
		started := time.Now()
		results, err := simulator.Run(encounters, horizonMin)
		if err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
		logrus.Infof("Run finished in %s: %d completed", time.Since(started).Round(time.Millisecond), results.Completed)

		parameters := map[string]any{
			"run_id":              runID,
			"original_encounters": len(encounters),
			"servers":             servers,
			"filter":              orAll(classFilter),
			"policy":              orDefault(policyName, sim.PolicyRules),
			"seed":                seed,
		}
		if policyName == sim.PolicyAgent {
			parameters["model"] = agentModel
		}

		report := sim.BuildReport(parameters, results, catalog)
		if outputPath != "" {
			if err := report.SaveToFile(outputPath); err != nil {
				logrus.Fatalf("Saving report: %v", err)
			}
			logrus.Infof("Report written to %s", outputPath)
			return
		}
		if err := report.WriteJSON(os.Stdout); err != nil {
			logrus.Fatalf("Writing report: %v", err)
		}
	},
}

func orAll(s string) string {
	if s == "" {
		return "all"
	}
	return s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Seed for random sampling")
	runCmd.Flags().IntVar(&servers, "servers", 3, "Number of treatment servers")
	runCmd.Flags().Float64Var(&horizonMin, "horizon", 0, "External horizon override in minutes (0 = computed bound only)")
	runCmd.Flags().StringVar(&logLevel, "log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")

	// Workload selection
	runCmd.Flags().StringVar(&encountersPath, "encounters", "", "Path to the encounters CSV file")
	runCmd.Flags().StringVar(&classFilter, "class", "", "Keep only encounters of this class")
	runCmd.Flags().IntVar(&limit, "limit", 100, "Max number of encounters (0 = no limit)")
	runCmd.Flags().Float64Var(&poissonRate, "poisson-rate", 0, "Re-draw arrivals as a Poisson process at this rate per minute (0 = keep CSV arrivals)")

	// Triage policy selection
	runCmd.Flags().StringVar(&policyName, "policy", sim.PolicyRules, "Triage policy (rules, agent)")
	runCmd.Flags().StringVar(&catalogPath, "catalog", "", "Priority catalog YAML (empty = built-in defaults)")
	runCmd.Flags().StringVar(&triageCfgPath, "triage-config", "", "Triage rules YAML (empty = built-in defaults)")

	// Agent policy configs
	runCmd.Flags().StringVar(&agentModel, "model", "phi:2.7b", "Model name for the agent policy")
	runCmd.Flags().StringVar(&agentURL, "agent-url", "http://localhost:11434", "Base URL of the generate endpoint")
	runCmd.Flags().IntVar(&agentTimeout, "agent-timeout", 60, "Agent HTTP timeout in seconds")
	runCmd.Flags().IntVar(&agentRetries, "agent-retries", 3, "Agent HTTP attempt budget")
	runCmd.Flags().StringVar(&agentMockMode, "agent-mock", "", "Agent mock mode (cycle, p1..p5); empty calls the live endpoint")
	runCmd.Flags().StringVar(&telemetryPath, "telemetry", "", "Append decision telemetry JSONL to this path")
	runCmd.Flags().StringVar(&outputPath, "output", "", "Write the report JSON to this path instead of stdout")

	// Attach `run` as a subcommand to `root`
	rootCmd.AddCommand(runCmd)
}
