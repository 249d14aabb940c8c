package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xuecangming/folder-copy/internal/common/errors"
	"github.com/xuecangming/folder-copy/internal/common/types"
	"github.com/xuecangming/folder-copy/internal/core/logger"
	"github.com/xuecangming/folder-copy/internal/service/copyoperation"
)

type enqueueFlags struct {
	userID          int64
	sourceProjectID int64
	targetProjectID int64
	pairs           []string
	workPackages    []string
	wait            bool
	timeout         time.Duration
}

func newEnqueueCmd() *cobra.Command {
	var flags enqueueFlags

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Start a copy operation for one or more project storage pairs",
		Long: `Enqueue creates a copy operation with one job per --pair SOURCE:TARGET.
Work package mappings given with --work-package SOURCE=TARGET apply to every pair.
With --wait the jobs are run in this process and the final status is printed.`,
		Example: `  folder-copy enqueue --user 7 --pair 12:34 --work-package 100=200 --wait`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.startRequest()
			if err != nil {
				return err
			}

			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			op, err := a.copyOps.Start(ctx, req)
			if err != nil {
				return err
			}
			a.logger.Info("Copy operation enqueued", logger.String("operation_id", op.ID))

			if !flags.wait {
				fmt.Fprintln(cmd.OutOrStdout(), op.ID)
				return nil
			}

			status, err := waitForOperation(ctx, a, op.ID, flags.timeout)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(status); err != nil {
				return err
			}
			if status.Operation.Status == types.OperationStatusFailed {
				return fmt.Errorf("copy operation %s failed: %d of %d jobs failed", op.ID, status.Operation.FailedJobs, status.Operation.TotalJobs)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&flags.userID, "user", 0, "id of the user the copied file links are created for")
	cmd.Flags().Int64Var(&flags.sourceProjectID, "source-project", 0, "source project id, informational")
	cmd.Flags().Int64Var(&flags.targetProjectID, "target-project", 0, "target project id, informational")
	cmd.Flags().StringArrayVar(&flags.pairs, "pair", nil, "SOURCE:TARGET project storage ids, repeatable")
	cmd.Flags().StringArrayVar(&flags.workPackages, "work-package", nil, "SOURCE=TARGET work package ids, repeatable")
	cmd.Flags().BoolVar(&flags.wait, "wait", false, "run the jobs in this process and print the final status")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 10*time.Minute, "give up waiting after this long")
	return cmd
}

func (f enqueueFlags) startRequest() (copyoperation.StartRequest, error) {
	req := copyoperation.StartRequest{
		UserID:          f.userID,
		SourceProjectID: f.sourceProjectID,
		TargetProjectID: f.targetProjectID,
	}

	workPackages := types.WorkPackageMap{}
	for _, wp := range f.workPackages {
		source, target, ok := strings.Cut(wp, "=")
		if !ok || source == "" || target == "" {
			return req, errors.InvalidArgument(fmt.Sprintf("work package %q must look like SOURCE=TARGET", wp))
		}
		workPackages[strings.TrimSpace(source)] = strings.TrimSpace(target)
	}

	for _, pair := range f.pairs {
		source, target, ok := strings.Cut(pair, ":")
		if !ok {
			return req, errors.InvalidArgument(fmt.Sprintf("pair %q must look like SOURCE:TARGET", pair))
		}
		sourceID, err := strconv.ParseInt(strings.TrimSpace(source), 10, 64)
		if err != nil {
			return req, errors.InvalidArgument(fmt.Sprintf("pair %q: invalid source id", pair))
		}
		targetID, err := strconv.ParseInt(strings.TrimSpace(target), 10, 64)
		if err != nil {
			return req, errors.InvalidArgument(fmt.Sprintf("pair %q: invalid target id", pair))
		}
		req.Pairs = append(req.Pairs, copyoperation.Pair{
			SourceID:        sourceID,
			TargetID:        targetID,
			WorkPackagesMap: workPackages,
		})
	}
	return req, nil
}

// waitForOperation runs the workers in process until every job of the
// operation is terminal.
func waitForOperation(ctx context.Context, a *app, id string, timeout time.Duration) (*copyoperation.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a.runner.Start(ctx)
	defer a.runner.Stop()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		status, err := a.copyOps.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if status.Operation.Finished() {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return status, fmt.Errorf("operation %s still running: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}
