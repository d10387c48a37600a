package kernelgrpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"pkt.systems/kernelx/schema"
)

const (
	helloKernelName = "kernel_name"
	helloWorkingDir = "working_dir"
	helloSessionID  = "session_id"
	helloKernelID   = "kernel_id"
)

func toStruct(msg schema.Message) (*structpb.Struct, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return structpb.NewStruct(fields)
}

func fromStruct(st *structpb.Struct) (schema.Message, error) {
	if st == nil {
		return schema.Message{}, fmt.Errorf("%w: empty frame", schema.ErrInvalidMessage)
	}
	data, err := json.Marshal(st.AsMap())
	if err != nil {
		return schema.Message{}, err
	}
	var msg schema.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return schema.Message{}, err
	}
	return msg, nil
}

type hello struct {
	KernelName schema.KernelName
	WorkingDir string
	SessionID  schema.SessionID
}

func (h hello) toStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		helloKernelName: string(h.KernelName),
		helloWorkingDir: h.WorkingDir,
		helloSessionID:  string(h.SessionID),
	})
}

func helloFromStruct(st *structpb.Struct) hello {
	fields := st.GetFields()
	return hello{
		KernelName: schema.KernelName(fields[helloKernelName].GetStringValue()),
		WorkingDir: fields[helloWorkingDir].GetStringValue(),
		SessionID:  schema.SessionID(fields[helloSessionID].GetStringValue()),
	}
}
