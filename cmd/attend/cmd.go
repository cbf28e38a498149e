package main

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"slices"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"mhattn/pkg/envconfig"
	"mhattn/pkg/model"
	"mhattn/pkg/model/attention"
	"mhattn/pkg/tensor"
)

// appendEnvDocs lists the environment variables a command honors in its usage.
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI builds the attend command tree.
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "attend",
		Short:         "Run multi-head attention over random inputs",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: envconfig.LogLevel(),
			})))
		},
		RunE: RunHandler,
	}

	defaults := model.DefaultAttentionConfig()
	flags := rootCmd.Flags()
	flags.Int("query-dim", defaults.QueryDim, "Query feature dimension")
	flags.Int("key-dim", defaults.KeyDim, "Key feature dimension")
	flags.Int("value-dim", defaults.ValueDim, "Value feature dimension")
	flags.Int("hidden-dim", defaults.HiddenDim, "Hidden dimension shared by all heads")
	flags.Int("heads", defaults.NumHeads, "Number of attention heads")
	flags.Float32("dropout", defaults.Dropout, "Attention dropout rate (used with --train)")
	flags.Bool("bias", defaults.UseBias, "Add a bias to the projections")
	flags.Bool("causal", false, "Mask keys after each query position")
	flags.Int("parallelism", 0, "Goroutines per forward pass (0 uses ATTN_NUM_THREADS)")
	flags.Bool("validate", false, "Fail on NaN or Inf in the results")
	flags.Int64("seed", envconfig.Seed(), "Seed for weights, inputs and dropout")
	flags.String("dtype", "f32", "Store projection weights as f32, f16 or bf16")
	flags.Int("batch", 2, "Batch size")
	flags.Int("query-len", 10, "Query sequence length")
	flags.Int("kv-len", 10, "Key/value sequence length")
	flags.IntSlice("valid-len", nil, "Valid key length per batch element (builds a padding mask)")
	flags.Bool("train", false, "Apply attention dropout")
	flags.Bool("print", false, "Print the output tensor")

	envVars := envconfig.AsMap()
	appendEnvDocs(rootCmd, []envconfig.EnvVar{
		envVars["ATTN_DEBUG"],
		envVars["ATTN_NUM_THREADS"],
		envVars["ATTN_SEED"],
		envVars["ATTN_VALIDATE"],
	})

	envCmd := &cobra.Command{
		Use:   "env",
		Short: "Show the effective environment configuration",
		Args:  cobra.NoArgs,
		RunE:  EnvHandler,
	}

	rootCmd.AddCommand(envCmd)

	return rootCmd
}

func configFromFlags(cmd *cobra.Command) (model.AttentionConfig, error) {
	var cfg model.AttentionConfig
	var err error
	flags := cmd.Flags()

	for _, f := range []struct {
		name string
		dst  *int
	}{
		{"query-dim", &cfg.QueryDim},
		{"key-dim", &cfg.KeyDim},
		{"value-dim", &cfg.ValueDim},
		{"hidden-dim", &cfg.HiddenDim},
		{"heads", &cfg.NumHeads},
		{"parallelism", &cfg.Parallelism},
	} {
		if *f.dst, err = flags.GetInt(f.name); err != nil {
			return cfg, err
		}
	}

	if cfg.Dropout, err = flags.GetFloat32("dropout"); err != nil {
		return cfg, err
	}
	if cfg.UseBias, err = flags.GetBool("bias"); err != nil {
		return cfg, err
	}
	if cfg.Causal, err = flags.GetBool("causal"); err != nil {
		return cfg, err
	}
	if cfg.ValidateOutput, err = flags.GetBool("validate"); err != nil {
		return cfg, err
	}
	if cfg.Seed, err = flags.GetInt64("seed"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// newEngine builds the engine and, for half-precision dtypes, reloads its
// weights through the raw buffer path so the forward pass sees rounded values.
func newEngine(cfg model.AttentionConfig, dtype tensor.DType) (*attention.MultiHeadAttention, error) {
	mha, err := attention.NewMultiHeadAttention(cfg)
	if err != nil {
		return nil, err
	}
	if dtype == tensor.F32 {
		return mha, nil
	}

	reload := func(l *model.Linear) (*model.Linear, error) {
		weightRaw, err := tensor.Encode(dtype, l.Weight)
		if err != nil {
			return nil, err
		}
		var biasRaw []byte
		if l.Bias != nil {
			if biasRaw, err = tensor.Encode(dtype, l.Bias); err != nil {
				return nil, err
			}
		}
		return model.LinearFromRaw(dtype, weightRaw, biasRaw, l.InDim(), l.OutDim())
	}

	projections := []*model.Linear{mha.WQuery, mha.WKey, mha.WValue, mha.OutProj}
	for i, l := range projections {
		if projections[i], err = reload(l); err != nil {
			return nil, fmt.Errorf("failed to reload weights as %v: %w", dtype, err)
		}
	}

	cfg = mha.Config()
	return attention.NewMultiHeadAttentionWithWeights(cfg, projections[0], projections[1], projections[2], projections[3])
}

func randomInput(rng *rand.Rand, shape ...int) *tensor.Tensor {
	t := tensor.NewTensor(shape)
	for i := range t.Data {
		t.Data[i] = float32(rng.NormFloat64())
	}
	return t
}

// RunHandler builds an engine from the flags, runs it once over random
// inputs, and reports the result shapes and attention row sums.
func RunHandler(cmd *cobra.Command, args []string) error {
	cfg, err := configFromFlags(cmd)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	dtypeName, _ := flags.GetString("dtype")
	batch, _ := flags.GetInt("batch")
	qLen, _ := flags.GetInt("query-len")
	kvLen, _ := flags.GetInt("kv-len")
	validLen, _ := flags.GetIntSlice("valid-len")
	train, _ := flags.GetBool("train")
	printOutput, _ := flags.GetBool("print")

	dtype, err := tensor.ParseDType(dtypeName)
	if err != nil {
		return err
	}
	if batch < 0 || qLen < 0 || kvLen < 0 {
		return fmt.Errorf("batch and sequence lengths must not be negative")
	}

	mha, err := newEngine(cfg, dtype)
	if err != nil {
		return err
	}

	var mask *tensor.Mask
	if len(validLen) > 0 {
		if mask, err = tensor.NewPaddingMask(validLen, kvLen); err != nil {
			return err
		}
	}

	rng := rand.New(rand.NewSource(cfg.Seed + 1))
	query := randomInput(rng, batch, qLen, cfg.QueryDim)
	key := randomInput(rng, batch, kvLen, cfg.KeyDim)
	value := randomInput(rng, batch, kvLen, cfg.ValueDim)

	var output, weights *tensor.Tensor
	if train {
		output, weights, err = mha.ForwardTrain(query, key, value, mask, rng)
	} else {
		output, weights, err = mha.Forward(query, key, value, mask)
	}
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	renderSummary(w, mha, dtype, output, weights)
	if printOutput {
		fmt.Fprintln(w, output)
	}
	return nil
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

func renderSummary(w io.Writer, mha *attention.MultiHeadAttention, dtype tensor.DType, output, weights *tensor.Tensor) {
	cfg := mha.Config()
	fmt.Fprintf(w, "heads=%d head_dim=%d dtype=%v causal=%v parallelism=%d\n\n",
		mha.NumHeads(), mha.HeadDim(), dtype, cfg.Causal, cfg.Parallelism)

	table := newTable(w, "TENSOR", "SHAPE")
	table.Append([]string{"output", output.ShapeString()})
	table.Append([]string{"weights", weights.ShapeString()})
	table.Render()
	fmt.Fprintln(w)

	batch, numHeads, qLen, kvLen := weights.Shape[0], weights.Shape[1], weights.Shape[2], weights.Shape[3]
	var data [][]string
	for b := range batch {
		for h := range numHeads {
			minSum, maxSum, empty := math.Inf(1), math.Inf(-1), 0
			for i := range qLen {
				var sum float64
				off := ((b*numHeads+h)*qLen + i) * kvLen
				for _, v := range weights.Data[off : off+kvLen] {
					sum += float64(v)
				}
				if sum == 0 {
					empty++
					continue
				}
				minSum, maxSum = math.Min(minSum, sum), math.Max(maxSum, sum)
			}

			row := []string{fmt.Sprint(b), fmt.Sprint(h), "-", "-", fmt.Sprint(empty)}
			if empty < qLen {
				row[2], row[3] = fmt.Sprintf("%.6f", minSum), fmt.Sprintf("%.6f", maxSum)
			}
			data = append(data, row)
		}
	}

	table = newTable(w, "BATCH", "HEAD", "MIN ROW SUM", "MAX ROW SUM", "MASKED ROWS")
	table.AppendBulk(data)
	table.Render()
}

// EnvHandler prints every recognized environment variable with its value.
func EnvHandler(cmd *cobra.Command, args []string) error {
	envVars := envconfig.AsMap()
	names := make([]string, 0, len(envVars))
	for name := range envVars {
		names = append(names, name)
	}
	slices.Sort(names)

	table := newTable(cmd.OutOrStdout(), "NAME", "VALUE", "DESCRIPTION")
	for _, name := range names {
		e := envVars[name]
		table.Append([]string{e.Name, strings.TrimSpace(fmt.Sprint(e.Value)), e.Description})
	}
	table.Render()

	return nil
}
