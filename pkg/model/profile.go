package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ReferenceImageID string

func NewReferenceImageID() ReferenceImageID {
	return ReferenceImageID(uuid.New().String())
}

// ReferenceImage is a photo of the store used to ground image and caption generation.
type ReferenceImage struct {
	ID          ReferenceImageID
	Path        string
	ContentType string

	// Description is given by the operator, VisualCaption by the image model
	Description   string
	VisualCaption string
	CreatedAt     time.Time
}

// Summary joins the operator description and the visual caption.
func (x *ReferenceImage) Summary() string {
	switch {
	case x.Description != "" && x.VisualCaption != "":
		return x.Description + " (" + x.VisualCaption + ")"
	case x.Description != "":
		return x.Description
	default:
		return x.VisualCaption
	}
}

// StoreProfile is the optional personalization context given to providers.
type StoreProfile struct {
	Name              string
	Address           string
	BrandVoice        string
	FunFacts          []string
	SignatureProducts []string
	ReferenceImages   []*ReferenceImage
	UpdatedAt         time.Time
}

// FindImage returns the reference image with the given ID, or nil.
func (x *StoreProfile) FindImage(id ReferenceImageID) *ReferenceImage {
	if x == nil {
		return nil
	}
	for _, img := range x.ReferenceImages {
		if img.ID == id {
			return img
		}
	}
	return nil
}

// Describe renders the profile as prompt context. Nil profile yields an empty string.
func (x *StoreProfile) Describe() string {
	if x == nil {
		return ""
	}

	var lines []string
	add := func(label, value string) {
		if value != "" {
			lines = append(lines, fmt.Sprintf("- %s: %s", label, value))
		}
	}
	add("Store name", x.Name)
	add("Address", x.Address)
	add("Brand voice", x.BrandVoice)
	add("Fun facts", strings.Join(x.FunFacts, "; "))
	add("Signature products", strings.Join(x.SignatureProducts, "; "))
	for _, img := range x.ReferenceImages {
		add("Reference photo", img.Summary())
	}

	return strings.Join(lines, "\n")
}
