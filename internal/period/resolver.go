package period

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"semcal/internal/model"
)

var (
	// ErrNoStudyPeriods means the portal listed no study periods at all.
	ErrNoStudyPeriods = errors.New("no study periods available for this account")

	// ErrNoSelectedPeriod means no name was given, nobody could be asked and
	// the portal marks no period as current.
	ErrNoSelectedPeriod = errors.New("no study period requested and the portal has no current study period")
)

// UnknownStudyPeriodError means the requested name matched no period.
type UnknownStudyPeriodError struct {
	Name string
}

func (e *UnknownStudyPeriodError) Error() string {
	return fmt.Sprintf("study period %q not found or not enrolled", e.Name)
}

// Prompter supplies a study period name when none was configured.
type Prompter interface {
	ChoosePeriod(ctx context.Context, periods []model.StudyPeriod) (string, error)
}

// Fixed is a Prompter that always answers with the same name.
type Fixed string

func (f Fixed) ChoosePeriod(context.Context, []model.StudyPeriod) (string, error) {
	return string(f), nil
}

// Resolver picks exactly one study period.
type Resolver struct {
	Prompter Prompter
}

// Resolve matches name against periods: exact name first, then trimmed
// case-insensitive name, then period code. An empty name asks the
// Prompter, or without one picks the portal's currently selected period.
func (r *Resolver) Resolve(ctx context.Context, periods []model.StudyPeriod, name string) (model.StudyPeriod, error) {
	if len(periods) == 0 {
		return model.StudyPeriod{}, ErrNoStudyPeriods
	}

	if strings.TrimSpace(name) == "" {
		if r.Prompter == nil {
			return selected(periods)
		}
		chosen, err := r.Prompter.ChoosePeriod(ctx, periods)
		if err != nil {
			return model.StudyPeriod{}, fmt.Errorf("period: prompt: %w", err)
		}
		name = chosen
	}

	for _, p := range periods {
		if p.Name == name {
			return p, nil
		}
	}
	want := strings.TrimSpace(name)
	for _, p := range periods {
		if strings.EqualFold(strings.TrimSpace(p.Name), want) {
			return p, nil
		}
	}
	for _, p := range periods {
		if strings.EqualFold(p.Code, want) {
			return p, nil
		}
	}
	return model.StudyPeriod{}, &UnknownStudyPeriodError{Name: name}
}

func selected(periods []model.StudyPeriod) (model.StudyPeriod, error) {
	for _, p := range periods {
		if p.Selected {
			return p, nil
		}
	}
	return model.StudyPeriod{}, ErrNoSelectedPeriod
}

// Terminal prompts on Out and reads one line from In. The answer may be a
// list number, a name or a code. An empty answer picks the portal's
// currently selected period.
//
// Reads happen on a separate goroutine so a cancelled ctx returns at once.
// The goroutine stays blocked on In until the next line arrives, which is
// fine for a process that exits after the export.
type Terminal struct {
	In  io.Reader
	Out io.Writer

	in *bufio.Reader
}

// reader wraps In once so input buffered past a newline survives between
// prompts. An In that is already a *bufio.Reader is used as is.
func (t *Terminal) reader() *bufio.Reader {
	if t.in == nil {
		if br, ok := t.In.(*bufio.Reader); ok {
			t.in = br
		} else {
			t.in = bufio.NewReader(t.In)
		}
	}
	return t.in
}

func (t *Terminal) ChoosePeriod(ctx context.Context, periods []model.StudyPeriod) (string, error) {
	fmt.Fprintln(t.Out, "Study periods:")
	def := ""
	for i, p := range periods {
		marker := " "
		if p.Selected {
			marker = "*"
			def = p.Name
		}
		fmt.Fprintf(t.Out, " %s %2d) %s [%s]\n", marker, i+1, p.Name, p.Code)
	}
	fmt.Fprint(t.Out, "Study period: ")

	line, err := readLine(ctx, t.reader())
	if err != nil {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(periods) {
		return periods[n-1].Name, nil
	}
	return line, nil
}

func readLine(ctx context.Context, in *bufio.Reader) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := in.ReadString('\n')
		if errors.Is(err, io.EOF) && line != "" {
			err = nil
		}
		ch <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		return r.line, r.err
	}
}
