package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/cumba2321/classsync/internal/attendance"
	"github.com/cumba2321/classsync/internal/model"
)

// AttendanceOptions holds flags shared by the attendance commands.
type AttendanceOptions struct {
	*RootOptions
	Class      string
	Date       string
	Collection string
}

// NewAttendanceCommand creates the attendance command group.
func NewAttendanceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AttendanceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "attendance",
		Short: "Request, approve and read attendance",
		Long: `Students request attendance for a class day; instructors approve the
request as present, late or absent, reject it, or mark a student directly.

Dates are YYYY-MM-DD calendar days and default to today.

Examples:
  classsync attendance request --class algebra --user stu1
  classsync attendance pending --class algebra --user prof --role instructor
  classsync attendance approve algebra_2025-11-03_stu1 late --user prof --role instructor
  classsync attendance status stu1 --class algebra --date 2025-11-03`,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.Class, "class", "", "class id")
	flags.StringVar(&opts.Date, "date", "", "class day as YYYY-MM-DD (default today)")
	flags.StringVar(&opts.Collection, "collection", attendance.DefaultCollection, "attendance collection path")

	cmd.AddCommand(newAttendanceRequestCommand(opts))
	cmd.AddCommand(newAttendanceApproveCommand(opts))
	cmd.AddCommand(newAttendanceRejectCommand(opts))
	cmd.AddCommand(newAttendanceMarkCommand(opts))
	cmd.AddCommand(newAttendanceStatusCommand(opts))
	cmd.AddCommand(newAttendancePendingCommand(opts))
	cmd.AddCommand(newAttendanceShowCommand(opts))

	return cmd
}

func newAttendanceRequestCommand(opts *AttendanceOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "request",
		Short:         "Request attendance for the signed-in student",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withWorkflow(cmd, true, func(ctx context.Context, w *attendance.Workflow) error {
				req, err := w.Request(ctx, opts.Class, opts.dateKey())
				if err != nil {
					return opts.formatter(cmd).Fail("request", err)
				}
				return opts.formatter(cmd).Emit(req, fmt.Sprintf("requested %s", req.ID))
			})
		},
	}
}

func newAttendanceApproveCommand(opts *AttendanceOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "approve <request-id> <present|late|absent>",
		Short:         "Approve a pending request",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := model.ParseAttendanceStatus(args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid status", err)
			}
			return opts.withWorkflow(cmd, false, func(ctx context.Context, w *attendance.Workflow) error {
				rec, err := w.Approve(ctx, args[0], status)
				if err != nil {
					return opts.formatter(cmd).Fail("approve", err)
				}
				return opts.formatter(cmd).Emit(rec, recordLine(rec))
			})
		},
	}
}

func newAttendanceRejectCommand(opts *AttendanceOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "reject <request-id>",
		Short:         "Reject a pending request",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withWorkflow(cmd, false, func(ctx context.Context, w *attendance.Workflow) error {
				if err := w.Reject(ctx, args[0]); err != nil {
					return opts.formatter(cmd).Fail("reject", err)
				}
				return opts.formatter(cmd).Emit(map[string]string{"request_id": args[0]}, "rejected "+args[0])
			})
		},
	}
}

func newAttendanceMarkCommand(opts *AttendanceOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "mark <student-id> <present|late|absent>",
		Short:         "Record a student's attendance without a request",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := model.ParseAttendanceStatus(args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid status", err)
			}
			return opts.withWorkflow(cmd, true, func(ctx context.Context, w *attendance.Workflow) error {
				rec, err := w.Mark(ctx, opts.Class, opts.dateKey(), args[0], status)
				if err != nil {
					return opts.formatter(cmd).Fail("mark", err)
				}
				return opts.formatter(cmd).Emit(rec, recordLine(rec))
			})
		},
	}
}

// StatusResult is the JSON payload of the status command.
type StatusResult struct {
	StudentID string                 `json:"student_id"`
	Date      string                 `json:"date"`
	Status    model.AttendanceStatus `json:"status"`
}

func newAttendanceStatusCommand(opts *AttendanceOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status [student-id]",
		Short:         "Show a student's status for the day (default: the signed-in user)",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			studentID := opts.Config.User.UserID
			if len(args) == 1 {
				studentID = args[0]
			}
			return opts.withWorkflow(cmd, true, func(ctx context.Context, w *attendance.Workflow) error {
				date := opts.dateKey()
				status, err := w.StudentStatus(ctx, opts.Class, date, studentID)
				if err != nil {
					return opts.formatter(cmd).Fail("status", err)
				}
				result := StatusResult{StudentID: studentID, Date: date, Status: status}
				return opts.formatter(cmd).Emit(result, fmt.Sprintf("%s %s %s", studentID, date, statusText(status)))
			})
		},
	}
}

func newAttendancePendingCommand(opts *AttendanceOptions) *cobra.Command {
	var allDays bool

	cmd := &cobra.Command{
		Use:           "pending",
		Short:         "List pending requests for the class",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withWorkflow(cmd, true, func(ctx context.Context, w *attendance.Workflow) error {
				date := opts.dateKey()
				if allDays {
					date = ""
				}
				reqs, err := w.Pending(ctx, opts.Class, date)
				if err != nil {
					return opts.formatter(cmd).Fail("pending", err)
				}
				lines := lo.Map(reqs, func(r attendance.Request, _ int) string {
					return fmt.Sprintf("%s  %s  %s  %s", r.ID, r.StudentName, r.Date, r.RequestedAt.Format(time.RFC3339))
				})
				text := strings.Join(lines, "\n")
				if len(lines) == 0 {
					text = "(none)"
				}
				return opts.formatter(cmd).Emit(reqs, text)
			})
		},
	}

	cmd.Flags().BoolVar(&allDays, "all", false, "list requests of every day")
	return cmd
}

func newAttendanceShowCommand(opts *AttendanceOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show",
		Short:         "Show the class attendance map for the day",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withWorkflow(cmd, true, func(ctx context.Context, w *attendance.Workflow) error {
				agg, err := w.Aggregate(ctx, opts.Class, opts.dateKey())
				if err != nil {
					return opts.formatter(cmd).Fail("show", err)
				}
				students := lo.Keys(agg.Attendance)
				slices.Sort(students)
				lines := lo.Map(students, func(s string, _ int) string {
					return fmt.Sprintf("%s  %s", s, agg.Attendance[s])
				})
				text := strings.Join(lines, "\n")
				if len(lines) == 0 {
					text = "(none)"
				}
				return opts.formatter(cmd).Emit(agg, text)
			})
		},
	}
}

// withWorkflow opens the backend and runs fn with an attendance workflow
// for the signed-in user. needClass requires --class.
func (opts *AttendanceOptions) withWorkflow(cmd *cobra.Command, needClass bool, fn func(ctx context.Context, w *attendance.Workflow) error) error {
	if needClass && opts.Class == "" {
		return NewExitError(ExitCommandError, "--class is required")
	}
	if opts.Date != "" {
		if _, err := model.ParseDateKey(opts.Date); err != nil {
			return WrapExitError(ExitCommandError, "invalid --date", err)
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := opts.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	w := attendance.New(s.adapter, s.auth,
		attendance.WithCollection(opts.Collection),
		attendance.WithLogger(opts.Logger),
	)
	return fn(ctx, w)
}

func (opts *AttendanceOptions) dateKey() string {
	if opts.Date != "" {
		return opts.Date
	}
	return model.DateKey(time.Now())
}

func recordLine(r attendance.Record) string {
	return fmt.Sprintf("%s %s %s", r.StudentID, r.Date, r.Status)
}

func statusText(s model.AttendanceStatus) string {
	if s == model.StatusNone {
		return "none"
	}
	return string(s)
}
