// Command tutorctl submits batch generation jobs to the api-service and
// follows them until they finish.
//
//	tutorctl token  -user <id>
//	tutorctl submit -subject Biology -type quiz -batches 5 [-watch]
//	tutorctl watch  <job-id>
//	tutorctl cancel <job-id>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cuongbtq/tutor-be/internal/api/dto"
	"github.com/cuongbtq/tutor-be/internal/auth"
	"github.com/cuongbtq/tutor-be/internal/client"
	"github.com/cuongbtq/tutor-be/shared/logger"
	"github.com/joho/godotenv"
)

const usage = `usage: tutorctl <command> [flags]

commands:
  token   mint a bearer token for a user (needs JWT_SECRET)
  submit  create a batch generation job
  watch   poll a job until it finishes
  cancel  ask a running job to stop

environment:
  TUTOR_API_URL    api base url (default http://localhost:8080)
  TUTOR_API_TOKEN  bearer token used for api calls
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	_ = godotenv.Load()

	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("missing command")
	}

	appLogger, err := logger.New(&logger.Config{Level: "info", Format: "console", Output: "stderr"})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "token":
		return runToken(args[1:])
	case "submit":
		return runSubmit(ctx, args[1:], appLogger.Logger)
	case "watch":
		return runWatch(ctx, args[1:], appLogger.Logger)
	case "cancel":
		return runCancel(ctx, args[1:])
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	userID := fs.String("user", "", "user id to put in the sub claim")
	issuer := fs.String("issuer", envOr("JWT_ISSUER", "tutor-be"), "token issuer")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	_ = fs.Parse(args)

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	if *userID == "" {
		return errors.New("-user is required")
	}

	token, err := auth.NewTokens(secret, *issuer, *ttl).Mint(*userID)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runSubmit(ctx context.Context, args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	contentType := fs.String("type", "quiz", "content type (quiz or practice_test)")
	subject := fs.String("subject", "", "subject to generate for")
	topics := fs.String("topics", "", "comma separated topics")
	examType := fs.String("exam", "", "exam the content targets")
	difficulty := fs.String("difficulty", "", "easy, medium or hard")
	perBatch := fs.Int("per-batch", 0, "items requested per batch")
	batches := fs.Int("batches", 0, "number of batches")
	key := fs.String("key", "", "idempotency key; resubmitting with it returns the first job")
	watch := fs.Bool("watch", false, "poll the job until it finishes")
	interval := fs.Duration("interval", client.DefaultPollInterval, "poll interval")
	_ = fs.Parse(args)

	api := newClient()
	resp, err := api.SubmitJob(ctx, dto.CreateJobRequest{
		ContentType:       *contentType,
		Subject:           *subject,
		Topics:            splitList(*topics),
		ExamType:          *examType,
		Difficulty:        *difficulty,
		QuestionsPerBatch: *perBatch,
		TotalBatches:      *batches,
	}, *key)
	if err != nil {
		return err
	}

	fmt.Printf("job %s %s\n", resp.JobID, resp.Status)
	if !*watch {
		return nil
	}
	return watchJob(ctx, api, resp.JobID, *interval, logger)
}

func runWatch(ctx context.Context, args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	interval := fs.Duration("interval", client.DefaultPollInterval, "poll interval")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("usage: tutorctl watch <job-id>")
	}
	return watchJob(ctx, newClient(), fs.Arg(0), *interval, logger)
}

func runCancel(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: tutorctl cancel <job-id>")
	}

	job, err := newClient().CancelJob(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("job %s %s (cancel requested)\n", job.JobID, job.Status)
	return nil
}

func watchJob(ctx context.Context, api *client.Client, jobID string, interval time.Duration, logger *slog.Logger) error {
	var final *dto.JobDTO
	poller := client.NewPoller(api, interval, logger)

	err := poller.Poll(ctx, jobID,
		func(job *dto.JobDTO) {
			fmt.Printf("%-10s %d/%d batches, %d saved\n",
				job.Status, job.CompletedItems, job.TotalItems, len(job.ResultIDs))
		},
		func(job *dto.JobDTO) { final = job },
	)
	if err != nil {
		return err
	}

	for _, be := range final.BatchErrors {
		fmt.Printf("  batch %d failed (%s): %s\n", be.Index, be.Kind, be.Message)
	}
	fmt.Println(summaryLine(final))
	if final.ErrorMessage != "" {
		return fmt.Errorf("job %s %s: %s", final.JobID, final.Status, final.ErrorMessage)
	}
	return nil
}

// summaryLine reports how many of the requested items were saved
func summaryLine(job *dto.JobDTO) string {
	saved := len(job.ResultIDs)
	line := fmt.Sprintf("saved %d of %d requested", saved, job.TotalItems)
	if saved < job.TotalItems {
		line += " (some items may be missing)"
	}
	return line
}

func newClient() *client.Client {
	return client.NewClient(envOr("TUTOR_API_URL", "http://localhost:8080"), os.Getenv("TUTOR_API_TOKEN"), nil)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
