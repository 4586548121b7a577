package commands

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bananastudio/internal/imagestore"
	"bananastudio/internal/job"
	"bananastudio/internal/nanobanana"
)

var generateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Submit a batch of generation jobs and follow them to completion",
	Args:  cobra.ExactArgs(1),
	RunE:  runGenerate,
}

func init() {
	generateCmd.Flags().String("model", "nano-banana", "Model identifier")
	generateCmd.Flags().String("aspect-ratio", "1:1", "Aspect ratio")
	generateCmd.Flags().String("image-size", "1024x1024", "Output size")
	generateCmd.Flags().Int("batch", 1, "Number of independent jobs to submit")
	generateCmd.Flags().Bool("auto-retry", false, "Retry failures automatically with backoff")
	generateCmd.Flags().StringArray("image", nil, "Reference image file (repeatable)")
	generateCmd.Flags().Bool("verbose", false, "Verbose logging")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	prompt := args[0]
	model, _ := cmd.Flags().GetString("model")
	aspect, _ := cmd.Flags().GetString("aspect-ratio")
	size, _ := cmd.Flags().GetString("image-size")
	batch, _ := cmd.Flags().GetInt("batch")
	autoRetry, _ := cmd.Flags().GetBool("auto-retry")
	imagePaths, _ := cmd.Flags().GetStringArray("image")
	verbose, _ := cmd.Flags().GetBool("verbose")

	logger := newLogger(verbose)
	client, err := newClient(&logger)
	if err != nil {
		return err
	}
	if batch < 1 {
		batch = 1
	}
	if batch > 10 {
		fmt.Fprintf(os.Stderr, "warning: submitting %d requests\n", batch)
	}

	store := imagestore.NewStore()
	if err := loadReferenceImages(store, imagePaths); err != nil {
		return err
	}

	registry := job.NewRegistry(client, logger)
	req := nanobanana.Request{
		Model:       model,
		Prompt:      prompt,
		AspectRatio: aspect,
		ImageSize:   size,
		URLs:        store.ResolveSelection(),
	}
	opts := job.Options{
		Logger:    &logger,
		Locale:    viper.GetString("locale"),
		AutoRetry: autoRetry,
	}
	lifecycles := registry.CreateBatch(req, batch, opts)

	failures := followJobs(lifecycles)
	for _, l := range lifecycles {
		l.Dispose()
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d jobs failed", failures, len(lifecycles))
	}
	return nil
}

// loadReferenceImages encodes each file as a data URI and adds it to the
// selection. A file that cannot be read or hashed is reported and skipped;
// the rest of the batch continues.
func loadReferenceImages(store *imagestore.Store, paths []string) error {
	var payloads []string
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping %s: %v\n", path, err)
			continue
		}
		mime := http.DetectContentType(data)
		payloads = append(payloads, "data:"+mime+";base64,"+base64.StdEncoding.EncodeToString(data))
	}
	for _, res := range store.AddAll(payloads) {
		if res.Err != nil {
			fmt.Fprintf(os.Stderr, "skipping image %d: %v\n", res.Index, res.Err)
		}
	}
	return nil
}

// followJobs prints phase, progress and countdown transitions for every job
// until each settles: succeeded, or failed with auto-retry off. Returns the
// number of failed jobs.
func followJobs(lifecycles []*job.Lifecycle) int {
	var wg sync.WaitGroup
	var mu sync.Mutex
	failures := 0

	for i, l := range lifecycles {
		wg.Add(1)
		go func(idx int, l *job.Lifecycle) {
			defer wg.Done()
			if !followOne(idx, l) {
				mu.Lock()
				failures++
				mu.Unlock()
			}
		}(i+1, l)
	}
	wg.Wait()
	return failures
}

func followOne(idx int, l *job.Lifecycle) bool {
	sub, cancel := l.Subscribe()
	defer cancel()

	var lastPhase job.Phase
	var lastProgress float64 = -1
	lastCountdown := -1

	for snap := range sub {
		switch {
		case snap.Phase != lastPhase:
			lastPhase = snap.Phase
			lastCountdown = -1
			switch snap.Phase {
			case job.PhaseSubmitting:
				fmt.Printf("[job %d] submitting (attempt %d)\n", idx, snap.Attempt)
			case job.PhaseStreaming:
				fmt.Printf("[job %d] generating...\n", idx)
			case job.PhaseSucceeded:
				fmt.Printf("[job %d] succeeded in %s: %s\n", idx, elapsed(snap), snap.ResultURL)
				return true
			case job.PhaseFailed:
				fmt.Printf("[job %d] failed after %s: %s\n", idx, elapsed(snap), snap.FailureMessage)
				if !snap.AutoRetry {
					return false
				}
			}
		case snap.Phase == job.PhaseStreaming && snap.Progress != nil && *snap.Progress != lastProgress:
			lastProgress = *snap.Progress
			fmt.Printf("[job %d] progress %.0f%%\n", idx, lastProgress)
		case snap.Phase == job.PhaseBackoff && snap.Countdown != lastCountdown:
			lastCountdown = snap.Countdown
			fmt.Printf("[job %d] retry %d in %ds\n", idx, snap.Attempt+1, snap.Countdown)
		}
	}
	return false
}

func elapsed(snap job.Snapshot) time.Duration {
	return (time.Duration(snap.ElapsedMS) * time.Millisecond).Round(100 * time.Millisecond)
}
