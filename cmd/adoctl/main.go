package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/mike11stevens/AdoProjectManager-sub002/internal/domain"
	apiclient "github.com/mike11stevens/AdoProjectManager-sub002/pkg/api/client"
)

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
}

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "login":
		err = commandLogin(args)
	case "connect":
		err = commandConnect(args)
	case "project":
		err = commandProject(args)
	case "analyze":
		err = commandAnalyze(args)
	case "clone":
		err = commandClone(args)
	case "deploy":
		err = commandDeploy(args)
	case "runs":
		err = commandRuns(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	password := fs.String("password", "", "Password (supply to avoid prompt)")
	apiBase := fs.String("api", "", "API base URL (default http://localhost:4000)")
	signup := fs.Bool("signup", false, "Register a new account instead of logging in")
	fs.Parse(args)

	if strings.TrimSpace(*email) == "" {
		return errors.New("--email is required")
	}

	secret := strings.TrimSpace(*password)
	if secret == "" {
		fmt.Print("Password: ")
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Print("\n")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		secret = string(bytes)
	}

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = *apiBase
	} else if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:4000"
	}

	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var resp apiclient.LoginResponse
	if *signup {
		resp, err = client.Signup(ctx, *email, secret)
	} else {
		resp, err = client.Login(ctx, *email, secret)
	}
	if err != nil {
		return err
	}
	cfg.AccessToken = resp.Tokens.AccessToken
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println("login successful")
	return nil
}

func commandConnect(args []string) error {
	fs := flag.NewFlagSet("connect", flag.ExitOnError)
	orgURL := fs.String("org", "", "Organization URL (e.g. https://dev.azure.com/acme)")
	pat := fs.String("token", "", "Personal access token (supply to avoid prompt)")
	fs.Parse(args)

	if strings.TrimSpace(*orgURL) == "" {
		return errors.New("--org is required")
	}
	secret := strings.TrimSpace(*pat)
	if secret == "" {
		fmt.Print("Personal access token: ")
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Print("\n")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		secret = string(bytes)
	}

	client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := client.SaveConnection(ctx, token, *orgURL, secret); err != nil {
		return err
	}
	fmt.Println("organization connection saved")
	return nil
}

func commandProject(args []string) error {
	if len(args) == 0 || args[0] != "list" {
		return errors.New("usage: adoctl project list")
	}
	fs := flag.NewFlagSet("project list", flag.ExitOnError)
	limit := fs.Int("limit", 0, "Maximum number of projects to display")
	fs.Parse(args[1:])

	client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	projects, err := client.ListProjects(ctx, token)
	if err != nil {
		return err
	}
	count := len(projects)
	if *limit > 0 && *limit < count {
		count = *limit
	}
	for i := 0; i < count; i++ {
		p := projects[i]
		fmt.Printf("%s\t%s\t%s\n", p.ID, p.Name, p.State)
	}
	return nil
}

func commandAnalyze(args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	source := fs.String("source", "", "Source project identifier")
	target := fs.String("target", "", "Target project identifier")
	fs.Parse(args)

	if strings.TrimSpace(*source) == "" {
		return errors.New("--source is required")
	}
	if strings.TrimSpace(*target) == "" {
		return errors.New("--target is required")
	}

	client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	analysis, err := client.Analyze(ctx, token, *source, *target)
	if err != nil {
		return err
	}
	fmt.Printf("work items: %d entries\n", len(analysis.WorkItems))
	for _, d := range analysis.WorkItems {
		if d.State == domain.DiffSynchronized {
			continue
		}
		fmt.Printf("  [%s] #%d %s\n", d.State, d.SourceID, d.Description)
	}
	fmt.Printf("classification paths: %d entries\n", len(analysis.Classifications))
	for _, d := range analysis.Classifications {
		fmt.Printf("  [%s] %s %s\n", d.State, d.Kind, d.Path)
	}
	fmt.Printf("groups with changes: %d\n", countGroupChanges(analysis.Groups))
	fmt.Printf("wiki advisories: %d\n", len(analysis.WikiPages))
	fmt.Printf("queries: %d entries\n", len(analysis.Queries))
	if !analysis.HasAnyDifferences() {
		fmt.Println("containers are synchronized")
	}
	return nil
}

func countGroupChanges(groups []domain.GroupMembershipDiff) int {
	n := 0
	for _, g := range groups {
		if g.HasChanges() {
			n++
		}
	}
	return n
}

func commandClone(args []string) error {
	fs := flag.NewFlagSet("clone", flag.ExitOnError)
	source := fs.String("source", "", "Source project identifier")
	target := fs.String("target", "", "Target project identifier")
	targetOrg := fs.String("target-org", "", "Target organization URL for cross-org clones")
	targetToken := fs.String("target-token", "", "Target organization access token")
	all := fs.Bool("all", false, "Enable every clone step")
	workItems := fs.Bool("work-items", false, "Clone work items")
	attachments := fs.Bool("attachments", false, "Clone work item attachments")
	areas := fs.Bool("areas", false, "Clone area paths")
	iterations := fs.Bool("iterations", false, "Clone iteration paths")
	queries := fs.Bool("queries", false, "Clone saved queries")
	fs.Parse(args)

	if strings.TrimSpace(*source) == "" {
		return errors.New("--source is required")
	}
	if strings.TrimSpace(*target) == "" {
		return errors.New("--target is required")
	}

	opts := domain.CloneOptions{
		WorkItems:          *workItems || *all,
		IncludeAttachments: *attachments || *all,
		AreaPaths:          *areas || *all,
		IterationPaths:     *iterations || *all,
		Queries:            *queries || *all,
	}
	if *all {
		opts.Repositories = true
		opts.Teams = true
		opts.BuildPipelines = true
		opts.ReleasePipelines = true
		opts.Dashboards = true
		opts.ServiceVisibility = true
		opts.ProjectSettings = true
	}

	client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	result, err := client.Clone(ctx, token, domain.CloneRequest{
		SourceProjectID: *source,
		TargetProjectID: *target,
		TargetOrgURL:    *targetOrg,
		TargetToken:     *targetToken,
		Options:         opts,
	})
	if err != nil {
		return err
	}
	for _, step := range result.Steps {
		status := "ok"
		if !step.Success {
			status = "FAILED"
		}
		fmt.Printf("%-20s %-7s %s\n", step.Name, status, step.Message+step.Error)
	}
	fmt.Printf("completed %d/%d steps, success=%v (run %s)\n", result.CompletedSteps, result.TotalSteps, result.Success, result.RunID)
	return nil
}

func commandDeploy(args []string) error {
	fs := flag.NewFlagSet("deploy", flag.ExitOnError)
	source := fs.String("source", "", "Source project identifier")
	targets := fs.String("targets", "", "Comma-separated target project identifiers")
	items := fs.String("items", "", "Comma-separated work item IDs")
	updateExisting := fs.Bool("update-existing", false, "Update previously deployed items")
	createPaths := fs.Bool("create-paths", false, "Create missing area/iteration paths")
	fs.Parse(args)

	if strings.TrimSpace(*source) == "" {
		return errors.New("--source is required")
	}
	targetIDs := splitList(*targets)
	if len(targetIDs) == 0 {
		return errors.New("--targets is required")
	}
	itemIDs, err := parseIntList(*items)
	if err != nil || len(itemIDs) == 0 {
		return errors.New("--items must be a comma-separated list of work item IDs")
	}

	client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	result, err := client.Deploy(ctx, token, domain.DeploymentRequest{
		SourceProjectID:  *source,
		TargetProjectIDs: targetIDs,
		WorkItemIDs:      itemIDs,
		Options: domain.DeploymentOptions{
			UpdateExisting:     *updateExisting,
			CreateMissingPaths: *createPaths,
		},
	})
	if err != nil {
		return err
	}
	for _, p := range result.Projects {
		status := "ok"
		if !p.Success {
			status = "FAILED: " + p.Error
		}
		fmt.Printf("%-30s created=%d updated=%d skipped=%d %s\n", p.ProjectID, p.Created, p.Updated, p.Skipped, status)
	}
	fmt.Printf("deployed %d items across %d targets (%d failed)\n", result.TotalDeployed, result.SuccessfulProjects, result.FailedProjects)
	return nil
}

func commandRuns(args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	limit := fs.Int("limit", 10, "Maximum number of runs to display")
	runID := fs.String("id", "", "Show a single run with its operation logs")
	fs.Parse(args)

	client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if strings.TrimSpace(*runID) != "" {
		detail, err := client.GetRun(ctx, token, *runID)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\t%s -> %s\tsuccess=%v\n", detail.Run.ID, detail.Run.Kind, detail.Run.SourceProjectID, detail.Run.TargetProjectID, detail.Run.Success)
		for _, entry := range detail.OperationLogs {
			mark := "+"
			if !entry.Success {
				mark = "!"
			}
			fmt.Printf("  %s %s\n", mark, entry.Message)
		}
		return nil
	}

	runs, err := client.ListRuns(ctx, token, *limit)
	if err != nil {
		return err
	}
	for _, run := range runs {
		fmt.Printf("%s\t%s\t%s -> %s\tsuccess=%v\t%s\n", run.ID, run.Kind, run.SourceProjectID, run.TargetProjectID, run.Success, run.StartedAt.Format(time.RFC3339))
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseIntList(raw string) ([]int, error) {
	var out []int
	for _, part := range splitList(raw) {
		var n int
		if _, err := fmt.Sscanf(part, "%d", &n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func authedClient() (*apiclient.Client, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, "", errors.New("please login first using 'adoctl login'")
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return nil, "", err
	}
	return client, token, nil
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: "http://localhost:4000"}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:4000"
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "adoctl", "config.json"), nil
}

func printUsage() {
	fmt.Printf("adoctl %s\n\n", buildVersion)
	fmt.Print(`Usage:
	adoctl login --email user@example.com [--password secret] [--signup] [--api http://localhost:4000]
	adoctl connect --org https://dev.azure.com/acme [--token pat]
	adoctl project list [--limit N]
	adoctl analyze --source <project-id> --target <project-id>
	adoctl clone --source <project-id> --target <project-id> [--all] [--work-items] [--attachments] [--areas] [--iterations] [--queries] [--target-org url --target-token pat]
	adoctl deploy --source <project-id> --targets <id,id,...> --items <id,id,...> [--update-existing] [--create-paths]
	adoctl runs [--limit N] [--id run-id]
	adoctl version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
