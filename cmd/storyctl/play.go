package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"bedtime-stories/server/internal/engine"
	"bedtime-stories/server/internal/interfaces"
)

var playOpts struct {
	continueTitle string
	name          string
	place         string
	tone          string
	moral         string
	minutes       float64
	age           int
	cues          []string
}

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play a new story, or continue a saved one",
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer core.Close()

		req := interfaces.UserStoryRequest{
			UserID:              userID,
			Name:                playOpts.name,
			Place:               playOpts.place,
			Tone:                playOpts.tone,
			Moral:               playOpts.moral,
			TargetLengthMinutes: playOpts.minutes,
			TargetAge:           playOpts.age,
			IllustrationCues:    playOpts.cues,
			IsContinuation:      playOpts.continueTitle != "",
			StoryChoice:         playOpts.continueTitle,
		}
		p := newPlayer(core.Manager, cmd.InOrStdin(), cmd.OutOrStdout())
		return p.run(cmd.Context(), req)
	},
}

func init() {
	f := playCmd.Flags()
	f.StringVar(&playOpts.continueTitle, "continue", "", "title of a saved story to continue")
	f.StringVar(&playOpts.name, "name", "", "main character")
	f.StringVar(&playOpts.place, "place", "", "where the story happens")
	f.StringVar(&playOpts.tone, "tone", "", "tone of the story")
	f.StringVar(&playOpts.moral, "moral", "", "lesson of the story")
	f.Float64Var(&playOpts.minutes, "minutes", 0, "reading time in minutes")
	f.IntVar(&playOpts.age, "age", 0, "age of the listener")
	f.StringSliceVar(&playOpts.cues, "cues", nil, "illustration cues, in order")
	rootCmd.AddCommand(playCmd)
}

// storyPlayer is the part of engine.Manager the terminal loop drives.
type storyPlayer interface {
	Start(ctx context.Context, req interfaces.UserStoryRequest) (*engine.Checkpoint, error)
	Advance(ctx context.Context, id, input string) (*engine.Checkpoint, error)
	Save(ctx context.Context, id, title string) (*interfaces.StoryRecord, error)
}

type player struct {
	stories storyPlayer
	in      *bufio.Scanner
	out     io.Writer
}

func newPlayer(stories storyPlayer, in io.Reader, out io.Writer) *player {
	return &player{stories: stories, in: bufio.NewScanner(in), out: out}
}

// run asks for the missing story fields and plays the story to its end.
func (p *player) run(ctx context.Context, req interfaces.UserStoryRequest) error {
	req = p.fillRequest(req)

	cp, err := p.stories.Start(ctx, req)
	if err != nil {
		return err
	}
	id := cp.SessionID

	input := ""
	for !cp.State.Terminal() {
		next, err := p.stories.Advance(ctx, id, input)
		if err != nil {
			fmt.Fprintf(p.out, "Something went wrong: %v\n", err)
			if p.confirm("Try again? (y/n): ") {
				continue
			}
			if next, err = p.stories.Advance(ctx, id, engine.ExitSignal); err != nil {
				return err
			}
		}
		cp = next
		if cp.Latest != nil && len(cp.Story.Segments) > 0 && cp.State != engine.StateAborted {
			p.printSegment(cp.Latest)
		}

		switch cp.State {
		case engine.StateAwaitingChoice:
			input = p.readChoice(cp.Latest)
		case engine.StateConcluding:
			fmt.Fprintln(p.out, "\nThe story is drawing to a close...")
			input = ""
		}
	}

	if cp.State == engine.StateAborted {
		fmt.Fprintln(p.out, "\nThe story ended early. Goodnight!")
		if len(cp.Story.Segments) == 0 {
			return nil
		}
		return p.offerSave(ctx, id, req)
	}
	fmt.Fprintf(p.out, "\nThe End. (about %.1f minutes)\n", cp.Story.CumulativeMinutes)
	return p.offerSave(ctx, id, req)
}

func (p *player) offerSave(ctx context.Context, id string, req interfaces.UserStoryRequest) error {
	if req.UserID == "" {
		return nil
	}
	if !p.confirm("Save this story? (y/n): ") {
		return nil
	}
	title := p.prompt("Title (leave blank for a default): ")
	record, err := p.stories.Save(ctx, id, title)
	if err != nil {
		return err
	}
	fmt.Fprintf(p.out, "Saved %q.\nSummary: %s\n", record.Title, record.Summary)
	return nil
}

// fillRequest prompts for every required field the flags left empty. A
// continuation keeps the saved values for blank answers.
func (p *player) fillRequest(req interfaces.UserStoryRequest) interfaces.UserStoryRequest {
	keep := ""
	if req.IsContinuation {
		keep = " (blank keeps the saved value)"
	}
	if req.Name == "" {
		req.Name = p.prompt("Who is the story about?" + keep + " ")
	}
	if req.Place == "" {
		req.Place = p.prompt("Where does it happen?" + keep + " ")
	}
	if req.Tone == "" {
		req.Tone = p.prompt("What tone should it have?" + keep + " ")
	}
	if req.Moral == "" {
		req.Moral = p.prompt("What lesson should it teach?" + keep + " ")
	}
	if req.TargetLengthMinutes <= 0 {
		req.TargetLengthMinutes, _ = strconv.ParseFloat(p.prompt("How many minutes should it last?"+keep+" "), 64)
	}
	if req.TargetAge <= 0 {
		req.TargetAge, _ = strconv.Atoi(p.prompt("How old is the listener?" + keep + " "))
	}
	if len(req.IllustrationCues) == 0 && !req.IsContinuation {
		for _, cue := range strings.Split(p.prompt("Illustration cues, comma separated (optional): "), ",") {
			if cue = strings.TrimSpace(cue); cue != "" {
				req.IllustrationCues = append(req.IllustrationCues, cue)
			}
		}
	}
	return req
}

func (p *player) printSegment(seg *engine.Segment) {
	fmt.Fprintf(p.out, "\n%s\n", seg.Text)
	if len(seg.IllustrationCues) > 0 {
		fmt.Fprintf(p.out, "[Illustrations: %s]\n", strings.Join(seg.IllustrationCues, ", "))
	}
	if len(seg.Choices) > 0 {
		fmt.Fprintln(p.out)
		for i, choice := range seg.Choices {
			fmt.Fprintf(p.out, "%d. %s\n", i+1, choice)
		}
	}
}

// readChoice maps a number to the matching choice; anything else is passed
// through as the reader's own decision. End of input exits the story.
func (p *player) readChoice(seg *engine.Segment) string {
	for {
		fmt.Fprint(p.out, "\nWhat do you choose? (number, your own idea, or \"exit story\"): ")
		if !p.in.Scan() {
			return engine.ExitSignal
		}
		answer := strings.TrimSpace(p.in.Text())
		if answer == "" {
			continue
		}
		if n, err := strconv.Atoi(answer); err == nil && seg != nil && n >= 1 && n <= len(seg.Choices) {
			return seg.Choices[n-1]
		}
		return answer
	}
}

func (p *player) prompt(question string) string {
	fmt.Fprint(p.out, question)
	if !p.in.Scan() {
		return ""
	}
	return strings.TrimSpace(p.in.Text())
}

func (p *player) confirm(question string) bool {
	answer := strings.ToLower(p.prompt(question))
	return answer == "y" || answer == "yes"
}
