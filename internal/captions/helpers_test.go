package captions

import "github.com/web1havv/edsurf/internal/speaker"

func speakerID(s string) speaker.ID { return speaker.ID(s) }
