package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-sourcing/internal/model"
	"github.com/sells-group/lead-sourcing/internal/targeting"
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Manage targeting preferences",
}

var prefsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add or replace a targeting preference",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		p, err := preferenceFromFlags(cmd)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		if err := st.SavePreference(ctx, p); err != nil {
			return eris.Wrap(err, "prefs add")
		}
		fmt.Fprintln(os.Stdout, p.ID)
		return nil
	},
}

var prefsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active preferences and the combos they aggregate into",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		prefs, err := st.ListActivePreferences(ctx)
		if err != nil {
			return eris.Wrap(err, "prefs list")
		}
		formatCombos(os.Stdout, targeting.Aggregate(prefs))
		return nil
	},
}

func init() {
	f := prefsAddCmd.Flags()
	f.String("id", "", "preference id (generated when empty)")
	f.String("user", "", "owning user id")
	f.String("workspace", "", "workspace id")
	f.StringSlice("industries", nil, "industries (comma separated)")
	f.StringSlice("states", nil, "states")
	f.StringSlice("cities", nil, "cities")
	f.StringSlice("postal-codes", nil, "postal codes")
	f.Int("daily-cap", model.NoCap, "daily lead cap (negative = no cap)")
	f.Int("weekly-cap", model.NoCap, "weekly lead cap (negative = no cap)")
	f.Int("monthly-cap", model.NoCap, "monthly lead cap (negative = no cap)")
	f.Bool("inactive", false, "store the preference as inactive")

	prefsCmd.AddCommand(prefsAddCmd)
	prefsCmd.AddCommand(prefsListCmd)
	rootCmd.AddCommand(prefsCmd)
}

func preferenceFromFlags(cmd *cobra.Command) (*model.TargetingPreference, error) {
	f := cmd.Flags()
	id, _ := f.GetString("id")
	user, _ := f.GetString("user")
	ws, _ := f.GetString("workspace")
	if user == "" || ws == "" {
		return nil, eris.New("prefs: --user and --workspace are required")
	}
	if id == "" {
		id = uuid.New().String()
	}

	p := &model.TargetingPreference{ID: id, UserID: user, WorkspaceID: ws}
	p.Industries, _ = f.GetStringSlice("industries")
	p.Geography.States, _ = f.GetStringSlice("states")
	p.Geography.Cities, _ = f.GetStringSlice("cities")
	p.Geography.PostalCodes, _ = f.GetStringSlice("postal-codes")
	p.DailyCap, _ = f.GetInt("daily-cap")
	p.WeeklyCap, _ = f.GetInt("weekly-cap")
	p.MonthlyCap, _ = f.GetInt("monthly-cap")
	inactive, _ := f.GetBool("inactive")
	p.IsActive = !inactive
	return p, nil
}

// formatCombos writes one line per combo with its workspaces.
func formatCombos(out io.Writer, combos []model.TargetingCombo) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "COMBO\tINDUSTRIES\tGEOGRAPHY\tWORKSPACES")
	for _, c := range combos {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			c.Key,
			orAny(c.Industries),
			orAny(c.Geography),
			strings.Join(c.WorkspaceIDs, ","),
		)
	}
	_ = w.Flush()
}

func orAny(vals []string) string {
	if len(vals) == 0 {
		return "*"
	}
	return strings.Join(vals, ",")
}
