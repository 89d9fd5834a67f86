package runtime

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	runtimeDocument  = "runtime.json"
	containersGroup  = "containers"
	containerDocFile = "container.json"
)

type persistedContainer struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CreateTime string `json:"create_time"`
}

type persistedRuntime struct {
	Containers []persistedContainer `json:"containers"`
}

// containerRecord is the per-container container.json document: richer
// than the index entry, it carries everything needed to reload a
// Container without consulting the external runtime.
type containerRecord struct {
	ID           string `json:"id"`
	RuncID       string `json:"runc_id"`
	Name         string `json:"name"`
	ImageID      string `json:"image_id"`
	FilesystemID string `json:"filesystem_id"`
	CreateTime   string `json:"create_time"`
}

const timeLayout = "2006-01-02T15:04:05.000000Z"

func marshalContainerRecord(c *Container) ([]byte, error) {
	rec := containerRecord{
		ID:           c.ID,
		RuncID:       c.RuncID,
		Name:         c.Name,
		ImageID:      c.ImageID,
		FilesystemID: c.FilesystemID,
		CreateTime:   c.CreateTime.UTC().Format(timeLayout),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("runtime: encoding container record for %q: %w", c.ID, err)
	}
	return data, nil
}

func unmarshalContainerRecord(data []byte) (*Container, error) {
	var rec containerRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("runtime: decoding container record: %w", err)
	}
	createTime, err := time.Parse(timeLayout, rec.CreateTime)
	if err != nil {
		createTime, err = time.Parse(time.RFC3339Nano, rec.CreateTime)
		if err != nil {
			return nil, fmt.Errorf("runtime: parsing create_time %q: %w", rec.CreateTime, err)
		}
	}
	return &Container{
		ID:           rec.ID,
		RuncID:       rec.RuncID,
		Name:         rec.Name,
		ImageID:      rec.ImageID,
		FilesystemID: rec.FilesystemID,
		CreateTime:   createTime,
	}, nil
}
