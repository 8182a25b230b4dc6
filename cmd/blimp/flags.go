package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/srg/blimp/internal/gatt"
	"github.com/srg/blimp/internal/profile"
)

// Where a characteristic's value comes from
const (
	sourceStatic   = "static"
	sourceScript   = "script"
	sourceServicer = "servicer"
)

var flagsJSON bool

var flagsCmd = &cobra.Command{
	Use:   "flags <profile>",
	Short: "Show the capability and permission flags a profile maps to",
	Long: `Loads a profile without touching the radio and prints, per characteristic,
the capability and permission flags the Bluetooth stack will be given,
followed by the advertisement payload.`,
	Example: `  blimp flags battery.yaml
  blimp flags --json battery.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runFlags,
}

func init() {
	flagsCmd.Flags().BoolVar(&flagsJSON, "json", false, "Print the report as JSON")
}

type flagsReport struct {
	Name          string              `json:"name"`
	Services      []serviceReport     `json:"services"`
	Advertisement *gatt.Advertisement `json:"advertisement"`
}

type serviceReport struct {
	UUID            string                 `json:"uuid"`
	Characteristics []characteristicReport `json:"characteristics"`
}

type characteristicReport struct {
	UUID            string          `json:"uuid"`
	Properties      gatt.Properties `json:"properties"`
	Secure          gatt.Properties `json:"secure,omitempty"`
	Capabilities    uint16          `json:"capabilities"`
	CapabilityNames []string        `json:"capability_names"`
	Permissions     uint8           `json:"permissions"`
	PermissionNames []string        `json:"permission_names"`
	Source          string          `json:"source"`
	Value           string          `json:"value,omitempty"` // hex, static values only
	Script          string          `json:"script,omitempty"`
}

func runFlags(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	prof, err := profile.Load(args[0])
	if err != nil {
		return err
	}
	report := buildFlagsReport(prof)

	out := cmd.OutOrStdout()
	if flagsJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	renderFlagsReport(out, report)
	return nil
}

func buildFlagsReport(prof *profile.Profile) flagsReport {
	scripts := make(map[[2]uuid.UUID]string)
	for _, b := range prof.Scripts() {
		scripts[[2]uuid.UUID{b.Service, b.Characteristic}] = b.Path
	}

	report := flagsReport{
		Name:          prof.Name,
		Advertisement: gatt.ComposeAdvertisement(prof.Name, prof.AdvertisedUUIDs()),
	}
	for _, svc := range prof.PrimaryServices() {
		desc := gatt.Build(svc)
		sr := serviceReport{UUID: gatt.ShortUUID(svc.UUID)}
		for i, c := range svc.Characteristics {
			cd := desc.Characteristics[i]
			cr := characteristicReport{
				UUID:            gatt.ShortUUID(c.UUID),
				Properties:      c.Properties,
				Secure:          c.Secure,
				Capabilities:    uint16(cd.Capabilities),
				CapabilityNames: nonNil(cd.Capabilities.Names()),
				Permissions:     uint8(cd.Permissions),
				PermissionNames: nonNil(cd.Permissions.Names()),
				Source:          sourceServicer,
			}
			switch path, ok := scripts[[2]uuid.UUID{svc.UUID, c.UUID}]; {
			case c.IsStatic():
				cr.Source = sourceStatic
				cr.Value = hex.EncodeToString(c.Value)
			case ok:
				cr.Source = sourceScript
				cr.Script = path
			}
			sr.Characteristics = append(sr.Characteristics, cr)
		}
		report.Services = append(report.Services, sr)
	}
	return report
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func renderFlagsReport(w io.Writer, r flagsReport) {
	title := color.New(color.Bold)
	heading := color.New(color.FgCyan, color.Bold)
	dim := color.New(color.Faint)

	title.Fprintf(w, "%s\n", r.Name)
	for _, s := range r.Services {
		heading.Fprintf(w, "\nservice %s\n", s.UUID)
		for _, c := range s.Characteristics {
			props := c.Properties.String()
			if !c.Secure.Empty() {
				props += " (secure: " + c.Secure.String() + ")"
			}
			fmt.Fprintf(w, "  %s  %s\n", c.UUID, props)
			fmt.Fprintf(w, "    capabilities  0x%03x  %s\n", c.Capabilities, gatt.CapabilityFlags(c.Capabilities))
			fmt.Fprintf(w, "    permissions   0x%02x   %s\n", c.Permissions, gatt.PermissionFlags(c.Permissions))
			switch c.Source {
			case sourceStatic:
				fmt.Fprintf(w, "    value         static %s\n", displayHex(c.Value))
			case sourceScript:
				fmt.Fprintf(w, "    value         script %s\n", c.Script)
			default:
				dim.Fprintf(w, "    value         servicer default\n")
			}
		}
	}

	heading.Fprintf(w, "\nadvertisement\n")
	for _, key := range r.Advertisement.Keys() {
		v, _ := r.Advertisement.Get(key)
		fmt.Fprintf(w, "  %-24s %s\n", key, displayAdvValue(v))
	}
}

func displayHex(s string) string {
	if s == "" {
		return "(empty)"
	}
	return s
}

func displayAdvValue(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case []string:
		if len(v) == 0 {
			return "(none)"
		}
		return strings.Join(v, ", ")
	default:
		return fmt.Sprint(v)
	}
}
