package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/storefront/internal/app"
	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/notify"
	"github.com/vladislavdragonenkov/storefront/internal/render"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const envConfigFile = "STOREFRONT_CONFIG"

// errRejected — операция отклонена корзиной; сообщение уже показано пользователю.
var errRejected = errors.New("cart operation was not applied")

var errCannotList = errors.New("storage driver cannot list profiles")

type rootOptions struct {
	lookup      func(string) (string, bool)
	configPath  string
	profile     string
	storage     string
	fileDir     string
	postgresDSN string
	redisAddr   string
	asJSON      bool
	verbose     bool
}

type cartSession struct {
	store    *cart.Store
	recorder *notify.Recorder
	closeFn  func()
}

func newRootCmd(lookup func(string) (string, bool)) *cobra.Command {
	opts := &rootOptions{lookup: lookup}
	configPath, _ := lookup(envConfigFile)

	root := &cobra.Command{
		Use:   "cartctl",
		Short: "Inspect and change a storefront cart",
		Long: `cartctl works with the same cart storage as the storefront service.

Every command loads the profile's cart, applies one operation, saves it
and prints the resulting cart together with the notification a shopper
would have seen.`,
		Version:       version.Current().Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", configPath, "YAML config file (env: "+envConfigFile+")")
	flags.StringVarP(&opts.profile, "profile", "p", "default", "profile whose cart to use")
	flags.StringVar(&opts.storage, "storage", "", "storage driver: memory|file|postgres|redis")
	flags.StringVar(&opts.fileDir, "file-dir", "", "directory for the file storage driver")
	flags.StringVar(&opts.postgresDSN, "postgres-dsn", "", "PostgreSQL DSN for the postgres driver")
	flags.StringVar(&opts.redisAddr, "redis-addr", "", "Redis address for the redis driver")
	flags.BoolVar(&opts.asJSON, "json", false, "print the cart as JSON")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log storage diagnostics")

	root.AddCommand(
		newShowCmd(opts),
		newAddCmd(opts),
		newSetCmd(opts),
		newStepCmd(opts, "inc", "Increase item quantity by one", 1),
		newStepCmd(opts, "dec", "Decrease item quantity by one", -1),
		newRemoveCmd(opts),
		newSimpleCmd(opts, "clear", "Remove every item from the cart", (*cart.Store).Clear),
		newSimpleCmd(opts, "checkout", "Check out a non-empty cart", (*cart.Store).Checkout),
		newProfilesCmd(opts),
	)
	return root
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, func(context.Context, *cart.Store) cart.Result {
				return cart.Result{Outcome: cart.OutcomeLoaded}
			})
		},
	}
}

func newAddCmd(opts *rootOptions) *cobra.Command {
	var image string
	cmd := &cobra.Command{
		Use:   "add NAME PRICE",
		Short: "Add a product or bump its quantity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			price, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid price %q: %w", args[1], err)
			}
			candidate := domain.Candidate{Name: args[0], Price: price, Image: image}
			return opts.run(cmd, func(ctx context.Context, store *cart.Store) cart.Result {
				return store.Add(ctx, candidate)
			})
		},
	}
	cmd.Flags().StringVar(&image, "image", "", "product image path")
	return cmd
}

func newSetCmd(opts *rootOptions) *cobra.Command {
	var byID bool
	cmd := &cobra.Command{
		Use:   "set INDEX QUANTITY",
		Short: "Set item quantity (1-10)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}
			quantity, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid quantity %q: %w", args[1], err)
			}
			return opts.run(cmd, func(ctx context.Context, store *cart.Store) cart.Result {
				if byID {
					return store.SetQuantityByID(ctx, ref, quantity)
				}
				return store.SetQuantity(ctx, int(ref), quantity)
			})
		},
	}
	cmd.Flags().BoolVar(&byID, "by-id", false, "treat the first argument as an item id")
	return cmd
}

func newStepCmd(opts *rootOptions, use, short string, delta int) *cobra.Command {
	var byID bool
	cmd := &cobra.Command{
		Use:   use + " INDEX",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}
			return opts.run(cmd, func(ctx context.Context, store *cart.Store) cart.Result {
				if byID {
					return store.ChangeQuantityByID(ctx, ref, delta)
				}
				return store.ChangeQuantity(ctx, int(ref), delta)
			})
		},
	}
	cmd.Flags().BoolVar(&byID, "by-id", false, "treat the argument as an item id")
	return cmd
}

func newRemoveCmd(opts *rootOptions) *cobra.Command {
	var byID bool
	cmd := &cobra.Command{
		Use:   "remove INDEX",
		Short: "Remove an item; unknown items are ignored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}
			return opts.run(cmd, func(ctx context.Context, store *cart.Store) cart.Result {
				if byID {
					return store.RemoveByID(ctx, ref)
				}
				return store.Remove(ctx, int(ref))
			})
		},
	}
	cmd.Flags().BoolVar(&byID, "by-id", false, "treat the argument as an item id")
	return cmd
}

func newSimpleCmd(opts *rootOptions, use, short string, op func(*cart.Store, context.Context) cart.Result) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, func(ctx context.Context, store *cart.Store) cart.Result {
				return op(store, ctx)
			})
		},
	}
}

func newProfilesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List profiles that have a stored cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			profiles, err := opts.profiles(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			if opts.asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Profiles []string `json:"profiles"`
				}{Profiles: profiles})
			}
			for _, profile := range profiles {
				if profile == "" {
					profile = "(anonymous)"
				}
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), profile); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func parseRef(raw string) (int64, error) {
	ref, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid item reference %q: %w", raw, err)
	}
	return ref, nil
}

// config собирает конфигурацию: файл, окружение, затем флаги.
// Некорректные переменные окружения, как и в сервисе, только логируются.
func (o *rootOptions) config(logger *log.Entry) (app.Config, error) {
	cfg, err := app.LoadConfigFile(app.DefaultConfig(), o.configPath)
	if err != nil {
		return cfg, err
	}
	cfg, err = app.ApplyEnv(cfg, o.lookup)
	if err != nil {
		logger.WithError(err).Warn("ignoring invalid environment overrides")
	}

	if o.storage != "" {
		cfg.StorageDriver = o.storage
	}
	if o.fileDir != "" {
		cfg.FileDir = o.fileDir
	}
	if o.postgresDSN != "" {
		cfg.PostgresDSN = o.postgresDSN
	}
	if o.redisAddr != "" {
		cfg.RedisAddr = o.redisAddr
	}
	return cfg, nil
}

func (o *rootOptions) logger(out io.Writer) *log.Entry {
	logger := log.New()
	logger.SetOutput(out)
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	logger.SetLevel(log.WarnLevel)
	if o.verbose {
		logger.SetLevel(log.DebugLevel)
	}
	return logger.WithField("component", "cartctl")
}

// profiles возвращает профили с сохранённой корзиной; посторонние ключи пропускаются.
func (o *rootOptions) profiles(ctx context.Context, errOut io.Writer) ([]string, error) {
	logger := o.logger(errOut)

	cfg, err := o.config(logger)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	storage, closeFn, err := app.OpenStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	lister, ok := storage.(domain.KeyLister)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errCannotList, cfg.StorageDriver)
	}
	keys, err := lister.Keys(ctx)
	if err != nil {
		return nil, err
	}

	profiles := make([]string, 0, len(keys))
	for _, key := range keys {
		if profile, ok := domain.ProfileFromKey(key); ok {
			profiles = append(profiles, profile)
		}
	}
	sort.Strings(profiles)
	return profiles, nil
}

func (o *rootOptions) open(ctx context.Context, errOut io.Writer) (*cartSession, error) {
	logger := o.logger(errOut)

	cfg, err := o.config(logger)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	storage, closeFn, err := app.OpenStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	recorder := notify.NewRecorder(nil)
	store := cart.NewStore(storage, domain.PayloadKey(o.profile),
		cart.WithLogger(logger.WithField("profile_id", o.profile)),
		cart.WithNotifier(recorder),
	)
	store.Load(ctx)
	return &cartSession{store: store, recorder: recorder, closeFn: closeFn}, nil
}

func (o *rootOptions) run(cmd *cobra.Command, op func(context.Context, *cart.Store) cart.Result) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	session, err := o.open(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer session.closeFn()

	res := op(ctx, session.store)
	view := render.Snapshot(session.store.Snapshot())

	if o.asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			Cart          render.View    `json:"cart"`
			Notifications []notify.Toast `json:"notifications"`
			Outcome       cart.Outcome   `json:"outcome"`
		}{Cart: view, Notifications: session.recorder.Toasts(), Outcome: res.Outcome}); err != nil {
			return err
		}
	} else {
		for _, toast := range session.recorder.Toasts() {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", toast.Severity, toast.Message)
		}
		if err := printView(cmd.OutOrStdout(), view); err != nil {
			return err
		}
	}

	if res.Notice.Severity == domain.SeverityError {
		return fmt.Errorf("%w: %s", errRejected, res.Notice.Message)
	}
	return nil
}

func printView(out io.Writer, view render.View) error {
	if view.Empty {
		_, err := fmt.Fprintln(out, cart.MsgEmpty)
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "#\tID\tNAME\tPRICE\tQTY\tTOTAL")
	for _, item := range view.Items {
		_, _ = fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%d\t%s\n",
			item.Index, item.ID, item.Name, item.PriceText, item.Quantity, item.TotalText)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if view.Skipped > 0 {
		_, _ = fmt.Fprintf(out, "(%d stored item(s) cannot be displayed)\n", view.Skipped)
	}
	_, err := fmt.Fprintf(out, "Items: %d  Subtotal: %s  Shipping: %s  Total: %s\n",
		view.Count, view.SubtotalText, view.ShippingText, view.TotalText)
	return err
}
