package storage

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/itiky/chatsync/model"
)

var mockPhrases = []string{
	"Hello",
	"Hi, how can I help you?",
	"I can't log into my account",
	"Could you send me your order number?",
	"Thanks!",
	"Let me check that for you",
	"The delivery is delayed",
	"Is there anything else I can help with?",
}

// GenAndSaveInitialHistory generates a random chat history and saves it to file system.
// operatorShare is the expected fraction of operator messages, the rest are visitor ones.
func GenAndSaveInitialHistory(filePath string, historySize int, operatorShare float64) error {
	if historySize <= 0 {
		return fmt.Errorf("%s: must be GT 0", "historySize")
	}
	if operatorShare < 0 || operatorShare > 1 {
		return fmt.Errorf("%s: must be in [0, 1]", "operatorShare")
	}

	log.Printf("Creating and sorting messages...")
	msgs := newMockMessages(historySize, time.Now(), operatorShare)
	operatorMsgs := 0
	for _, msg := range msgs {
		if msg.Kind == model.MessageKindOperator {
			operatorMsgs++
		}
	}
	log.Printf("Messages: %s visitor / %s operator",
		humanize.Comma(int64(len(msgs)-operatorMsgs)), humanize.Comma(int64(operatorMsgs)))

	log.Printf("GOB marshal...")
	msgsRaw := new(bytes.Buffer)
	if err := gob.NewEncoder(msgsRaw).Encode(msgs); err != nil {
		return fmt.Errorf("GOB marshal: %w", err)
	}

	log.Printf("Saving file (%s)...", humanize.Bytes(uint64(msgsRaw.Len())))
	if err := os.WriteFile(filePath, msgsRaw.Bytes(), 0644); err != nil {
		return fmt.Errorf("write to file (%s): %w", filePath, err)
	}

	log.Printf("Done")

	return nil
}

// NewDeltaLogFromFile builds the DeltaLog object with a single revision (the base) from the file.
// The base state is a chatting session with the file messages.
func NewDeltaLogFromFile(filePath string, fullUpdateMsgLimit int) (*DeltaLog, error) {
	log.Printf("Reading file...")
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("reading file (%s): %w", filePath, err)
	}

	log.Printf("GOB unmarshal (%s)...", humanize.Bytes(uint64(len(data))))
	msgs := make([]model.Message, 0)
	if err := gob.NewDecoder(bytes.NewBuffer(data)).Decode(&msgs); err != nil {
		return nil, fmt.Errorf("GOB unmarshal: %w", err)
	}

	log.Printf("DeltaLog creation...")
	deltaLog := NewDeltaLog(0, NewMockSnapshot(msgs), fullUpdateMsgLimit)

	log.Printf("DeltaLog created: %s messages", humanize.Comma(int64(len(msgs))))

	return deltaLog, nil
}

// NewMockSnapshot builds a chatting session Snapshot with the sorted messages.
func NewMockSnapshot(msgs []model.Message) *Snapshot {
	s := NewSnapshot()
	s.AuthToken = uuid.NewString()
	s.PageID = uuid.NewString()
	s.SessionID = uuid.NewString()
	s.VisitSessionState = model.VisitSessionStateChat
	s.OnlineStatus = "online"
	s.Departments = []model.Department{
		{Key: "support", Name: "Support", Order: 1, Online: "online"},
		{Key: "sales", Name: "Sales", Order: 2, Online: "busy_online"},
	}
	s.Chat = &model.Chat{
		ID:    model.FlexString(uuid.NewString()),
		State: model.ChatStateChatting,
		Operator: &model.Operator{
			ID:             "1",
			Name:           "Operator",
			DepartmentKeys: []string{"support"},
		},
	}
	s.messages = newMessageStoreFromMessages(msgs)

	return s
}

// newMockMessages builds sorted mock messages with timestamps going back from now (one per second).
func newMockMessages(n int, now time.Time, operatorShare float64) []model.Message {
	msgs := make([]model.Message, 0, n)
	for i := 0; i < n; i++ {
		ts := now.Add(-time.Duration(n-i) * time.Second)
		msgs = append(msgs, newMockMessage(ts, operatorShare))
	}

	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].Less(msgs[j])
	})

	return msgs
}

// newMockMessage builds a mock message, an operator one with the operatorShare probability.
func newMockMessage(ts time.Time, operatorShare float64) model.Message {
	msg := model.Message{
		ID:        model.FlexString(uuid.NewString()),
		Kind:      model.MessageKindVisitor,
		Text:      mockPhrases[rand.Intn(len(mockPhrases))],
		Timestamp: float64(ts.UnixMicro()) / 1e6,
	}
	if rand.Float64() < operatorShare {
		msg.Kind = model.MessageKindOperator
		msg.SenderName = "Operator"
		msg.AuthorID = "1"
	}

	return msg
}

// newMessageStoreFromMessages builds the MessageStore object from messages sorted by model.Message.Less.
func newMessageStoreFromMessages(msgs []model.Message) *MessageStore {
	s := NewMessageStore()

	s.list = make([]*model.Message, 0, len(msgs))
	for idx := 0; idx < len(msgs); idx++ {
		msg := &msgs[idx]
		s.idDataMatch[msg.ID.String()] = msg
		s.list = append(s.list, msg)
	}

	return s
}
