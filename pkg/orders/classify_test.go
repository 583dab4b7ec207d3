package orders

import "testing"

func TestClassifier_IsShoe(t *testing.T) {
	tests := []struct {
		name       string
		classifier Classifier
		serialized string
		want       bool
	}{
		{
			name:       "shoe at default offset",
			classifier: DefaultClassifier(),
			serialized: "N1234567",
			want:       true,
		},
		{
			name:       "non-shoe at default offset",
			classifier: DefaultClassifier(),
			serialized: "N7001234",
			want:       false,
		},
		{
			name:       "offset 2 revision ignores second char",
			classifier: Classifier{Offset: 2, Width: 6, NonShoePrefix: "7"},
			serialized: "N7001234",
			want:       true,
		},
		{
			name:       "offset 2 revision matches third char",
			classifier: Classifier{Offset: 2, Width: 6, NonShoePrefix: "7"},
			serialized: "NX7012345",
			want:       false,
		},
		{
			name:       "id too short to classify stays shoe",
			classifier: DefaultClassifier(),
			serialized: "N70",
			want:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.classifier.IsShoe(Record{SerializedID: tt.serialized})
			if got != tt.want {
				t.Errorf("IsShoe(%q) = %v, want %v", tt.serialized, got, tt.want)
			}
		})
	}
}
