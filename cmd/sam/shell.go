package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/smartautomapper/sam/internal/autocomplete"
	"github.com/smartautomapper/sam/internal/geo"
	"github.com/smartautomapper/sam/internal/planner"
	"github.com/smartautomapper/sam/internal/routing"
)

const helpText = `commands:
  from TEXT | from @LON,LAT     type the departure, or set it to a coordinate
  to TEXT   | to @LON,LAT       type the destination, or set it to a coordinate
  pick from|to N                choose suggestion N
  route [tollfree | tolls N | budget EUR | budget N%]
  tolls                         look up tolls along the displayed route
  show fastest|cheapest|min-tolls
  clear [route|tolls|from|to]
  state                         print the full state as JSON
  help, quit`

var errQuit = errors.New("quit")

// shell drives a planner from line commands.
type shell struct {
	planner *planner.Planner
	out     io.Writer
	// settle bounds the wait for suggestions after typing into a field.
	settle  time.Duration
	changes chan struct{}
}

// newShell builds the planner from cfg and hooks its change notifications.
func newShell(cfg planner.Config, out io.Writer, settle time.Duration) *shell {
	s := &shell{
		out:     out,
		settle:  settle,
		changes: make(chan struct{}, 1),
	}
	cfg.OnChange = func(planner.Snapshot) { s.signal() }
	s.planner = planner.New(cfg)
	return s
}

func (s *shell) signal() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// run executes commands from in until quit or end of input.
func (s *shell) run(ctx context.Context, in io.Reader) error {
	defer s.planner.Close()

	scanner := bufio.NewScanner(in)
	fmt.Fprint(s.out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			err := s.exec(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(s.out, "error: %s\n", message(err))
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprint(s.out, "> ")
	}
	return scanner.Err()
}

func (s *shell) exec(ctx context.Context, line string) error {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(cmd) {
	case "from":
		return s.input(s.planner.Origin(), rest)
	case "to":
		return s.input(s.planner.Destination(), rest)
	case "pick":
		return s.pick(rest)
	case "route":
		return s.route(ctx, rest)
	case "tolls":
		return s.tolls(ctx)
	case "show":
		if err := s.planner.Select(routing.StrategyKind(rest)); err != nil {
			return err
		}
		s.printRoute()
		return nil
	case "clear":
		return s.clear(rest)
	case "state":
		enc := json.NewEncoder(s.out)
		enc.SetIndent("", "  ")
		return enc.Encode(s.planner.Snapshot())
	case "help", "?":
		fmt.Fprintln(s.out, helpText)
		return nil
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
}

func (s *shell) input(field *autocomplete.Coordinator, text string) error {
	if strings.HasPrefix(text, "@") {
		p, err := parsePoint(strings.TrimPrefix(text, "@"))
		if err != nil {
			return err
		}
		if err := field.Resolve(geo.PlaceFeature{Label: p.String(), Anchor: p}); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s: %s\n", field.State().Field, p)
		return nil
	}

	field.Input(text)
	st := s.await(field)
	switch {
	case st.Error != "":
		return errors.New(st.Error)
	case st.Phase == autocomplete.PhaseIdle:
		fmt.Fprintln(s.out, "(keep typing for suggestions)")
	case st.Phase != autocomplete.PhaseSettled:
		fmt.Fprintln(s.out, "(suggestions still loading, try again)")
	case len(st.Suggestions) == 0:
		fmt.Fprintln(s.out, "(no suggestions)")
	default:
		for i, f := range st.Suggestions {
			fmt.Fprintf(s.out, "  %d. %s\n", i+1, describePlace(f))
		}
	}
	return nil
}

// await blocks until the field leaves the pending and fetching phases or settle elapses.
func (s *shell) await(field *autocomplete.Coordinator) autocomplete.State {
	deadline := time.NewTimer(s.settle)
	defer deadline.Stop()
	for {
		st := field.State()
		if st.Phase != autocomplete.PhasePending && st.Phase != autocomplete.PhaseFetching {
			return st
		}
		select {
		case <-s.changes:
		case <-deadline.C:
			return field.State()
		}
	}
}

func (s *shell) pick(args string) error {
	which, idx, ok := strings.Cut(args, " ")
	if !ok {
		return errors.New("usage: pick from|to N")
	}
	n, err := strconv.Atoi(strings.TrimSpace(idx))
	if err != nil {
		return fmt.Errorf("invalid suggestion number %q", idx)
	}
	field, err := s.field(which)
	if err != nil {
		return err
	}
	feature, err := field.Select(n - 1)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s: %s\n", field.State().Field, describePlace(feature))
	return nil
}

func (s *shell) route(ctx context.Context, args string) error {
	opts, err := parseRouteOptions(args)
	if err != nil {
		return err
	}
	if _, err := s.planner.Submit(ctx, opts); err != nil {
		return err
	}
	s.printRoute()
	return nil
}

func (s *shell) tolls(ctx context.Context) error {
	result, err := s.planner.ShowTolls(ctx)
	if err != nil {
		return err
	}
	if result.Disabled {
		fmt.Fprintln(s.out, "(toll lookup is currently disabled)")
		return nil
	}
	if len(result.Tolls) == 0 {
		fmt.Fprintln(s.out, "(no tolls on this route)")
	}
	for _, t := range result.Tolls {
		line := "  " + t.Name
		if t.Highway != "" {
			line += " (" + t.Highway + ")"
		}
		fmt.Fprintf(s.out, "%s at %s\n", line, t.Location)
	}
	if w := result.Warning(); w != "" {
		fmt.Fprintln(s.out, "warning: "+w)
	}
	return nil
}

func (s *shell) clear(what string) error {
	switch what {
	case "", "route":
		s.planner.ClearRoute()
	case "tolls":
		s.planner.ClearTolls()
	case "from", "to":
		field, _ := s.field(what)
		field.Clear()
	default:
		return fmt.Errorf("cannot clear %q", what)
	}
	return nil
}

func (s *shell) field(which string) (*autocomplete.Coordinator, error) {
	switch strings.TrimSpace(which) {
	case "from":
		return s.planner.Origin(), nil
	case "to":
		return s.planner.Destination(), nil
	}
	return nil, fmt.Errorf("unknown field %q, expected from or to", which)
}

func (s *shell) printRoute() {
	snap := s.planner.Snapshot()
	for i, sum := range snap.Summaries {
		marker := " "
		if i == snap.Selected {
			marker = "*"
		}
		parts := []string{sum.Name}
		for _, v := range []string{sum.Distance, sum.Duration, sum.Cost} {
			if v != "" {
				parts = append(parts, v)
			}
		}
		if sum.Tolls != nil {
			parts = append(parts, fmt.Sprintf("%d tolls", *sum.Tolls))
		}
		if sum.Savings != nil && *sum.Savings > 0 {
			parts = append(parts, fmt.Sprintf("saves %.2f €", *sum.Savings))
		}
		if sum.MainRoad != "" {
			parts = append(parts, "via "+sum.MainRoad)
		}
		fmt.Fprintf(s.out, "%s %s\n", marker, strings.Join(parts, " | "))
	}
	for _, w := range snap.Warnings {
		fmt.Fprintln(s.out, "warning: "+w)
	}
}

func parseRouteOptions(args string) (planner.Options, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return planner.Options{Mode: routing.ModeUnconstrained}, nil
	}

	switch fields[0] {
	case "tollfree":
		return planner.Options{Mode: routing.ModeTollFree}, nil
	case "tolls":
		if len(fields) != 2 {
			return planner.Options{}, errors.New("usage: route tolls N")
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return planner.Options{}, fmt.Errorf("invalid toll count %q", fields[1])
		}
		return planner.Options{Mode: routing.ModeTollCount, MaxTolls: &n}, nil
	case "budget":
		if len(fields) != 2 {
			return planner.Options{}, errors.New("usage: route budget EUR | route budget N%")
		}
		raw := strings.Replace(fields[1], ",", ".", 1)
		if pct, ok := strings.CutSuffix(raw, "%"); ok {
			v, err := strconv.ParseFloat(pct, 64)
			if err != nil {
				return planner.Options{}, fmt.Errorf("invalid budget %q", fields[1])
			}
			return planner.Options{Mode: routing.ModeBudget, MaxCostPercent: &v}, nil
		}
		v, err := strconv.ParseFloat(strings.TrimSuffix(raw, "€"), 64)
		if err != nil {
			return planner.Options{}, fmt.Errorf("invalid budget %q", fields[1])
		}
		return planner.Options{Mode: routing.ModeBudget, MaxCostEuros: &v}, nil
	}
	return planner.Options{}, fmt.Errorf("unknown route option %q", fields[0])
}

func parsePoint(raw string) (geo.Point, error) {
	lonStr, latStr, ok := strings.Cut(raw, ",")
	if !ok {
		return geo.Point{}, fmt.Errorf("expected LON,LAT, got %q", raw)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("invalid longitude %q", lonStr)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("invalid latitude %q", latStr)
	}
	p := geo.Point{Lon: lon, Lat: lat}
	if err := p.Validate(); err != nil {
		return geo.Point{}, err
	}
	return p, nil
}

func describePlace(f geo.PlaceFeature) string {
	if f.Region != "" {
		return f.Label + ", " + f.Region
	}
	return f.Label
}

// message prefers the user-facing text of pipeline errors.
func message(err error) string {
	var rerr *routing.Error
	switch {
	case errors.Is(err, autocomplete.ErrNoSuggestion), errors.Is(err, planner.ErrNoRoute),
		errors.Is(err, planner.ErrUnknownStrategy):
		return err.Error()
	case errors.As(err, &rerr), errors.Is(err, routing.ErrInvalidCoordinates),
		errors.Is(err, routing.ErrNoRouteFound), errors.Is(err, routing.ErrProviderUnavailable):
		return routing.UserMessage(err)
	}
	return err.Error()
}
