package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/qrcascade/internal/barcode"
	"github.com/MeKo-Tech/qrcascade/internal/models"
	"github.com/MeKo-Tech/qrcascade/internal/onnx"
)

// modelEntry describes one detector variant on disk.
type modelEntry struct {
	Variant     string `json:"variant"`
	Path        string `json:"path"`
	Available   bool   `json:"available"`
	LatencyMs   int64  `json:"expected_latency_ms"`
	Description string `json:"description"`
	// Inspection is set by --inspect for available models.
	Inspection   *onnx.ModelInfo `json:"inspection,omitempty"`
	InspectError string          `json:"inspect_error,omitempty"`
}

// decoderEntry describes one classical decoder backend.
type decoderEntry struct {
	Name      string `json:"name"`
	CostMs    int64  `json:"expected_cost_ms"`
	Available bool   `json:"available"`
	Note      string `json:"note,omitempty"`
}

const opencvBuildNote = "not compiled in; build with -tags opencv (cgo and OpenCV 4) for the full five-decoder cascade"

func listModels(modelsDir string) []modelEntry {
	infos := models.ListAvailableModels()
	out := make([]modelEntry, len(infos))
	for i, info := range infos {
		path := models.GetDetectorModelPath(modelsDir, info.Variant)
		out[i] = modelEntry{
			Variant:     info.Variant,
			Path:        path,
			Available:   models.ValidateModelExists(path) == nil,
			LatencyMs:   info.ExpectedLatency.Milliseconds(),
			Description: info.Description,
		}
	}
	return out
}

// inspectModels fills in the tensor signature of every available model.
func inspectModels(entries []modelEntry, useGPU bool) error {
	if err := onnx.InitRuntime(useGPU); err != nil {
		return fmt.Errorf("cannot inspect models: %w", err)
	}
	for i := range entries {
		if !entries[i].Available {
			continue
		}
		info, err := onnx.Inspect(entries[i].Path)
		if err != nil {
			entries[i].InspectError = err.Error()
			continue
		}
		entries[i].Inspection = &info
	}
	return nil
}

func listDecoders() []decoderEntry {
	specs := barcode.Specs()
	out := make([]decoderEntry, 0, len(specs))
	for _, s := range specs {
		_, err := barcode.New(s.Name)
		e := decoderEntry{Name: s.Name, CostMs: s.Cost.Milliseconds(), Available: err == nil}
		switch {
		case err == nil:
		case s.Name == barcode.NameOpenCV:
			e.Note = opencvBuildNote
		default:
			e.Note = err.Error()
		}
		out = append(out, e)
	}
	return out
}

func writeDecoders(w io.Writer, decoders []decoderEntry) {
	_, _ = fmt.Fprintln(w, "DECODER\tAVAILABLE\tCOST")
	for _, d := range decoders {
		_, _ = fmt.Fprintf(w, "%s\t%t\t%dms\n", d.Name, d.Available, d.CostMs)
	}
	for _, d := range decoders {
		if d.Note != "" {
			_, _ = fmt.Fprintf(w, "note: %s %s\n", d.Name, d.Note)
		}
	}
}

func writeInspection(w io.Writer, e modelEntry) {
	if e.InspectError != "" {
		_, _ = fmt.Fprintf(w, "  error: %s\t\t\t\n", e.InspectError)
		return
	}
	if e.Inspection == nil {
		return
	}
	for _, in := range e.Inspection.Inputs {
		_, _ = fmt.Fprintf(w, "  input %s\t%v\t%s\t\n", in.Name, in.Dimensions, in.DataType)
	}
	for _, out := range e.Inspection.Outputs {
		_, _ = fmt.Fprintf(w, "  output %s\t%v\t%s\t\n", out.Name, out.Dimensions, out.DataType)
	}
	if e.Inspection.Producer != "" {
		_, _ = fmt.Fprintf(w, "  producer %s\t\t\t\n", e.Inspection.Producer)
	}
}

// modelsCmd represents the models command.
var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List detector models and decoder backends",
	Long: `List the YOLO QR detector variants with their resolved paths and whether
the weights are present, followed by the classical decoder backends.
The opencv decoder is only present in binaries built with -tags opencv.

Examples:
  qrcascade models
  qrcascade models --models-dir /opt/qrcascade/models --format json
  qrcascade models --inspect`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		format, _ := cmd.Flags().GetString("format")
		entries := listModels(cfg.ModelsDir)
		decoders := listDecoders()
		if inspect, _ := cmd.Flags().GetBool("inspect"); inspect {
			if err := inspectModels(entries, cfg.GPU.Enabled); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		switch format {
		case outputFormatJSON:
			return writeJSONLine(out, struct {
				ModelsDir string         `json:"models_dir"`
				Models    []modelEntry   `json:"models"`
				Decoders  []decoderEntry `json:"decoders"`
			}{models.GetModelsDir(cfg.ModelsDir), entries, decoders})
		case outputFormatText:
		default:
			return fmt.Errorf("invalid output format: %s (must be one of: %s, %s)", format, outputFormatText, outputFormatJSON)
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "VARIANT\tAVAILABLE\tLATENCY\tPATH")
		for _, e := range entries {
			_, _ = fmt.Fprintf(tw, "%s\t%t\t%dms\t%s\n", e.Variant, e.Available, e.LatencyMs, e.Path)
			writeInspection(tw, e)
		}
		_, _ = fmt.Fprintln(tw)
		writeDecoders(tw, decoders)
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json)")
	modelsCmd.Flags().Bool("inspect", false, "load ONNX Runtime and print each model's tensor signature")
}
