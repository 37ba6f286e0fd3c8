package agent

import "fmt"

// Role names used across the system.
const (
	RoleArchivist    = "archivist"
	RoleAnalyst      = "analyst"
	RoleTheorist     = "theorist"
	RoleCommunicator = "communicator"
	RoleScribe       = "scribe"
	RoleValidator    = "validator"
	RoleNavigator    = "navigator"
	RoleIntegrator   = "integrator"
)

// Weights describes the philosophy weights an agent persona should cite.
type Weights struct {
	Inevitability    float64
	Symmetry         float64
	Parsimony        float64
	ExplanatoryPower float64
}

// DefaultRoles builds the standard agent roster.
func DefaultRoles(w Weights) map[string]*Agent {
	return map[string]*Agent{
		RoleArchivist: {
			Name:      RoleArchivist,
			Role:      "Chat Log Archivist",
			Goal:      "Parse and consolidate ChatGPT exports and ongoing conversations",
			Backstory: "Meticulous tracker of all mathematical discussions across platforms.",
			TaskKind:  "extraction",
		},
		RoleAnalyst: {
			Name:      RoleAnalyst,
			Role:      "Mathematical Concept Analyst",
			Goal:      "Extract novel definitions, hypotheses, and potential breakthroughs",
			Backstory: "Sharp-eyed identifier of mathematical gems hidden in conversations.",
			TaskKind:  "extraction",
		},
		RoleTheorist: {
			Name: RoleTheorist,
			Role: "Principal Theoretical Physicist",
			Goal: fmt.Sprintf(
				"Evaluate concepts using elegance criteria: inevitability=%.2f symmetry=%.2f parsimony=%.2f explanatory_power=%.2f",
				w.Inevitability, w.Symmetry, w.Parsimony, w.ExplanatoryPower),
			Backstory: "A seasoned physicist who abhors arbitrary assumptions and seeks inevitable structures. You evaluate every idea through the lens of naturalness and elegance.",
			TaskKind:  "evaluation",
		},
		RoleCommunicator: {
			Name:      RoleCommunicator,
			Role:      "Deep Think Communicator",
			Goal:      "Transform dense technical content into clear, intuitive explanations",
			Backstory: "Master of revealing the beauty beneath complexity, making the profound accessible.",
			TaskKind:  "summarization",
		},
		RoleScribe: {
			Name:      RoleScribe,
			Role:      "Research Scribe",
			Goal:      "Maintain coherent documentation in LaTeX with technical appendices",
			Backstory: "Keeper of the growing mathematical framework, ensuring nothing is lost.",
			TaskKind:  "summarization",
		},
		RoleValidator: {
			Name:      RoleValidator,
			Role:      "Experimental Validator",
			Goal:      "Validate theoretical propositions through computational experiments",
			Backstory: "Rigorous tester who brings mathematical beauty down to empirical reality.",
			TaskKind:  "validation",
		},
		RoleNavigator: {
			Name:      RoleNavigator,
			Role:      "Web Interface Navigator",
			Goal:      "Access AI models through web interfaces when APIs are unavailable",
			Backstory: "Expert at navigating web UIs to extract AI insights despite access limitations.",
			TaskKind:  "extraction",
		},
		RoleIntegrator: {
			Name:      RoleIntegrator,
			Role:      "External Source Integrator",
			Goal:      "Process YouTube videos, articles, and papers referenced in research",
			Backstory: "Bridge between external knowledge and our mathematical framework.",
			TaskKind:  "summarization",
		},
	}
}
