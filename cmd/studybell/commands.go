package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"studybell/internal/model"
)

func SetupCommands(a *App) *cobra.Command {
	// root command; every subcommand opens the config and the schedule
	rootCmd := &cobra.Command{
		Use:           "studybell",
		Short:         "Study and daily routine reminders",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.Open(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.Close()
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "/etc/studybell/config.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&a.database, "database", "", "Path to the schedule database (overrides config if set)")

	// command for running the scheduler and the HTTP API
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reminder scheduler and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Serve(cmd.Context())
		},
	}
	serveCmd.Flags().StringVar(&a.listen, "listen", "", "HTTP listen address (overrides config if set)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(studyCommand(a))
	rootCmd.AddCommand(routineCommand(a))
	rootCmd.AddCommand(checkCommand(a))
	rootCmd.AddCommand(upcomingCommand(a))

	rootCmd.AddCommand(&cobra.Command{
		Use:   "export",
		Short: "Print the schedule as iCalendar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Export(cmd.OutOrStdout())
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "import [file|url]",
		Short: "Merge reminders from an iCalendar file or feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Import(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	})

	return rootCmd
}

func studyCommand(a *App) *cobra.Command {
	studyCmd := &cobra.Command{
		Use:   "study",
		Short: "Manage weekly study reminders",
	}

	studyCmd.AddCommand(&cobra.Command{
		Use:   "add [subject] [HH:MM] [day]",
		Short: "Add a weekly study reminder",
		Args:  cobra.ExactArgs(3),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) != 2 {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			return model.Weekdays[:], cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.AddStudy(cmd.Context(), cmd.OutOrStdout(), args[0], args[1], args[2])
		},
	})

	var day string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List study reminders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.ListStudy(cmd.OutOrStdout(), day)
		},
	}
	listCmd.Flags().StringVar(&day, "day", "", "Only list reminders on this weekday")
	studyCmd.AddCommand(listCmd)

	studyCmd.AddCommand(&cobra.Command{
		Use:   "rm [id]",
		Short: "Remove a study reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			return a.RemoveStudy(cmd.Context(), cmd.OutOrStdout(), id)
		},
	})

	return studyCmd
}

func routineCommand(a *App) *cobra.Command {
	routineCmd := &cobra.Command{
		Use:   "routine",
		Short: "Manage daily routine reminders",
	}

	routineCmd.AddCommand(&cobra.Command{
		Use:   "add [activity] [HH:MM]",
		Short: "Add a daily routine reminder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.AddRoutine(cmd.Context(), cmd.OutOrStdout(), args[0], args[1])
		},
	})
	routineCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List routine reminders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.ListRoutine(cmd.OutOrStdout())
		},
	})
	routineCmd.AddCommand(&cobra.Command{
		Use:   "rm [id]",
		Short: "Remove a routine reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			return a.RemoveRoutine(cmd.Context(), cmd.OutOrStdout(), id)
		},
	})

	return routineCmd
}

func checkCommand(a *App) *cobra.Command {
	var at string
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Show which reminder is due now or at --at",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			when, err := parseAt(at, a.now())
			if err != nil {
				return err
			}
			return a.Check(cmd.OutOrStdout(), when)
		},
	}
	checkCmd.Flags().StringVar(&at, "at", "", `Instant to check: RFC 3339, "HH:MM" today, or "Day HH:MM" this week`)
	return checkCmd
}

func upcomingCommand(a *App) *cobra.Command {
	var hours int
	upcomingCmd := &cobra.Command{
		Use:   "upcoming",
		Short: "List reminders due soon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Upcoming(cmd.OutOrStdout(), hours)
		},
	}
	upcomingCmd.Flags().IntVar(&hours, "hours", 0, "Look-ahead window in hours (default from config)")
	return upcomingCmd
}

// parseAt resolves --at relative to now. An empty value means now.
func parseAt(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return now, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	dayPart, clockPart, hasDay := strings.Cut(s, " ")
	if !hasDay {
		clockPart, dayPart = s, ""
	}
	hhmm, ok := model.CanonicalTime(clockPart)
	if !ok {
		return time.Time{}, fmt.Errorf("invalid --at %q", s)
	}
	h, m, _ := model.SplitClock(hhmm)
	at := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location())
	if dayPart == "" {
		return at, nil
	}
	_, wd, ok := model.ParseDay(dayPart)
	if !ok {
		return time.Time{}, fmt.Errorf("invalid --at %q: unknown day", s)
	}
	// Same week, counting from Sunday like time.Weekday.
	return at.AddDate(0, 0, int(wd)-int(now.Weekday())), nil
}
