package device

import (
	"errors"
	"strings"
	"testing"
)

func validInput() CreateInput {
	return CreateInput{
		DeviceID: "LIGHT_001",
		Name:     "Kitchen Ceiling",
		Type:     TypeLight,
		Location: "Kitchen",
	}
}

func TestValidateInput(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(in *CreateInput)
		wantFields []string
	}{
		{name: "valid input", mutate: func(*CreateInput) {}},
		{name: "hyphen and underscore allowed", mutate: func(in *CreateInput) { in.DeviceID = "a-b_c" }},
		{name: "device id at max length", mutate: func(in *CreateInput) { in.DeviceID = strings.Repeat("A", 20) }},
		{name: "missing device id", mutate: func(in *CreateInput) { in.DeviceID = "" }, wantFields: []string{"device_id"}},
		{name: "device id too short", mutate: func(in *CreateInput) { in.DeviceID = "AB" }, wantFields: []string{"device_id"}},
		{name: "device id too long", mutate: func(in *CreateInput) { in.DeviceID = strings.Repeat("A", 21) }, wantFields: []string{"device_id"}},
		{name: "device id with space", mutate: func(in *CreateInput) { in.DeviceID = "LIGHT 1" }, wantFields: []string{"device_id"}},
		{name: "device id with punctuation", mutate: func(in *CreateInput) { in.DeviceID = "light.1" }, wantFields: []string{"device_id"}},
		{name: "blank name", mutate: func(in *CreateInput) { in.Name = "   " }, wantFields: []string{"name"}},
		{name: "name too long", mutate: func(in *CreateInput) { in.Name = strings.Repeat("n", 101) }, wantFields: []string{"name"}},
		{name: "name at max length", mutate: func(in *CreateInput) { in.Name = strings.Repeat("n", 100) }},
		{name: "missing type", mutate: func(in *CreateInput) { in.Type = "" }, wantFields: []string{"type"}},
		{name: "unknown type", mutate: func(in *CreateInput) { in.Type = "toaster" }, wantFields: []string{"type"}},
		{name: "missing location", mutate: func(in *CreateInput) { in.Location = "" }, wantFields: []string{"location"}},
		{
			name: "every field wrong",
			mutate: func(in *CreateInput) {
				*in = CreateInput{}
			},
			wantFields: []string{"device_id", "name", "type", "location"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			err := ValidateInput(in)

			if len(tt.wantFields) == 0 {
				if err != nil {
					t.Fatalf("ValidateInput() error = %v, want nil", err)
				}
				return
			}

			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("ValidateInput() error = %v, want *ValidationError", err)
			}
			if !errors.Is(err, ErrInvalidDevice) {
				t.Error("ValidationError should match ErrInvalidDevice")
			}
			if len(ve.Fields) != len(tt.wantFields) {
				t.Fatalf("fields = %+v, want %v", ve.Fields, tt.wantFields)
			}
			for i, f := range tt.wantFields {
				if ve.Fields[i].Field != f {
					t.Errorf("Fields[%d] = %q, want %q", i, ve.Fields[i].Field, f)
				}
			}
		})
	}
}

func TestValidatePatch(t *testing.T) {
	empty := ""
	good := "Hall"
	bad := DeviceType("toaster")

	if err := ValidatePatch(Patch{}); err != nil {
		t.Errorf("ValidatePatch(empty) error = %v", err)
	}
	if err := ValidatePatch(Patch{Location: &good}); err != nil {
		t.Errorf("ValidatePatch(location) error = %v", err)
	}

	err := ValidatePatch(Patch{Name: &empty, Type: &bad})
	var ve *ValidationError
	if !errors.As(err, &ve) || len(ve.Fields) != 2 {
		t.Errorf("ValidatePatch(bad) error = %v, want two field errors", err)
	}
}

func TestValidDeviceType(t *testing.T) {
	for _, dt := range AllDeviceTypes() {
		if !ValidDeviceType(dt) {
			t.Errorf("ValidDeviceType(%q) = false", dt)
		}
	}
	if len(AllDeviceTypes()) != 10 {
		t.Errorf("AllDeviceTypes() has %d entries, want 10", len(AllDeviceTypes()))
	}
	if ValidDeviceType("Light") {
		t.Error("device types are case-sensitive")
	}
}

func TestNormalizeInput(t *testing.T) {
	in := normalizeInput(CreateInput{DeviceID: " A-1 ", Name: " Lamp ", Location: "\tHall\n"})
	if in.DeviceID != "A-1" || in.Name != "Lamp" || in.Location != "Hall" {
		t.Errorf("normalizeInput() = %+v", in)
	}
}
