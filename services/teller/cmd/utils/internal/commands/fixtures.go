package commands

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Wence024/bankqueue-teller-webapp/pkg/enums/priority"
	"github.com/Wence024/bankqueue-teller-webapp/pkg/enums/queuetype"
	"github.com/Wence024/bankqueue-teller-webapp/services/teller/internal/queue"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// fixtureNamespace derives ids for fixture tickets that do not name one, so
// loading the same file twice does not duplicate customers.
var fixtureNamespace = uuid.MustParse("0e6a3c52-8d1b-4f0a-b7e4-2c9d5f813a67")

type fixtureFile struct {
	Tickets []fixtureTicket `yaml:"tickets"`
}

type fixtureTicket struct {
	ID         string        `yaml:"id"`
	Number     string        `yaml:"number"`
	QueueType  string        `yaml:"queue_type"`
	Priority   string        `yaml:"priority"`
	ArrivedAgo string        `yaml:"arrived_ago"`
	Payload    queue.Payload `yaml:"payload"`
}

// LoadFixtures reads a YAML ticket fixture file. Tickets without arrived_ago
// arrive a minute apart in file order.
func LoadFixtures(r io.Reader, now time.Time) ([]queue.Ticket, error) {
	var file fixtureFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("fixture file is empty")
		}
		return nil, fmt.Errorf("cannot parse fixture file: %w", err)
	}
	if len(file.Tickets) == 0 {
		return nil, errors.New("fixture file has no tickets")
	}

	tickets := make([]queue.Ticket, 0, len(file.Tickets))
	for i, ft := range file.Tickets {
		t, err := ft.ticket(now, len(file.Tickets)-i)
		if err != nil {
			return nil, fmt.Errorf("ticket %d: %w", i+1, err)
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}

func (ft fixtureTicket) ticket(now time.Time, minutesAgo int) (queue.Ticket, error) {
	if !queuetype.Valid(ft.QueueType) {
		return queue.Ticket{}, fmt.Errorf("invalid queue type %q", ft.QueueType)
	}
	if ft.Number == "" {
		return queue.Ticket{}, errors.New("number is required")
	}

	prio := ft.Priority
	if prio == "" {
		prio = priority.Priorities.Standard.Code()
	}
	if priority.ByName(prio) == nil {
		return queue.Ticket{}, fmt.Errorf("invalid priority %q", prio)
	}

	id := uuid.NewSHA1(fixtureNamespace, []byte(ft.QueueType+"/"+ft.Number))
	if ft.ID != "" {
		parsed, err := uuid.Parse(ft.ID)
		if err != nil {
			return queue.Ticket{}, fmt.Errorf("invalid id: %w", err)
		}
		id = parsed
	}

	ago := time.Duration(minutesAgo) * time.Minute
	if ft.ArrivedAgo != "" {
		d, err := time.ParseDuration(ft.ArrivedAgo)
		if err != nil {
			return queue.Ticket{}, fmt.Errorf("invalid arrived_ago: %w", err)
		}
		ago = d
	}

	payload := ft.Payload
	if payload.Type == "" {
		payload.Type = ft.QueueType
	}

	return queue.Ticket{
		ID:        id,
		Number:    ft.Number,
		QueueType: ft.QueueType,
		Priority:  prio,
		Payload:   payload,
		CreatedAt: now.Add(-ago),
	}, nil
}
