package detect

import "strings"

// Component classes the board model is trained on.
const (
	ClassIC            = "IC"
	ClassLED           = "LED"
	ClassBattery       = "Battery"
	ClassBuzzer        = "Buzzer"
	ClassCapacitor     = "Capacitor"
	ClassClock         = "Clock"
	ClassConnector     = "Connector"
	ClassDiode         = "Diode"
	ClassDisplay       = "Display"
	ClassFuse          = "Fuse"
	ClassInductor      = "Inductor"
	ClassPotentiometer = "Potentiometer"
	ClassRelay         = "Relay"
	ClassResistor      = "Resistor"
	ClassSwitch        = "Switch"
	ClassTransistor    = "Transistor"
)

var allClasses = []string{
	ClassIC, ClassLED, ClassBattery, ClassBuzzer,
	ClassCapacitor, ClassClock, ClassConnector, ClassDiode,
	ClassDisplay, ClassFuse, ClassInductor, ClassPotentiometer,
	ClassRelay, ClassResistor, ClassSwitch, ClassTransistor,
}

// Classes returns the known class labels in model order.
func Classes() []string {
	out := make([]string, len(allClasses))
	copy(out, allClasses)
	return out
}

// ClassIndex returns the model index of a known class, or -1.
func ClassIndex(name string) int {
	for i, c := range allClasses {
		if c == name {
			return i
		}
	}
	return -1
}

var classSynonyms = map[string]string{
	"integrated circuit": ClassIC,
	"chip":               ClassIC,
	"microcontroller":    ClassIC,
	"ic chip":            ClassIC,
	"cap":                ClassCapacitor,
	"crystal":            ClassClock,
	"oscillator":         ClassClock,
	"header":             ClassConnector,
	"pot":                ClassPotentiometer,
	"button":             ClassSwitch,
	"lcd":                ClassDisplay,
}

// CanonicalClass maps a free-form label onto a known class. Labels that
// match nothing are returned trimmed but otherwise unchanged.
func CanonicalClass(label string) string {
	trimmed := strings.TrimSpace(label)
	norm := strings.ToLower(trimmed)
	if c, ok := classSynonyms[norm]; ok {
		return c
	}
	for _, c := range allClasses {
		if norm == strings.ToLower(c) || norm == strings.ToLower(c)+"s" {
			return c
		}
	}
	return trimmed
}
