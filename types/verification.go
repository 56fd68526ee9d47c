package types

// VerificationLevel уровень проверки World ID
type VerificationLevel string

const (
	VerificationLevelDevice VerificationLevel = "device"
	VerificationLevelOrb    VerificationLevel = "orb"
)

var verificationLevelRank = map[VerificationLevel]int{
	VerificationLevelDevice: 1,
	VerificationLevelOrb:    2,
}

// Satisfies сообщает, что уровень не ниже требуемого. Неизвестный уровень с любой
// стороны даёт false.
func (l VerificationLevel) Satisfies(required VerificationLevel) bool {
	have, ok := verificationLevelRank[l]
	if !ok {
		return false
	}
	want, ok := verificationLevelRank[required]
	if !ok {
		return false
	}
	return have >= want
}

// WorldIDProof доказательство, сформированное кошельком. Передаётся во внешний сервис без изменений.
type WorldIDProof struct {
	Proof             string            `json:"proof"`
	MerkleRoot        string            `json:"merkle_root"`
	NullifierHash     string            `json:"nullifier_hash"`
	VerificationLevel VerificationLevel `json:"verification_level"`
}

// VerificationClaim заявка на доступ к защищённому действию
type VerificationClaim struct {
	Action string       `json:"action"`
	Signal string       `json:"signal,omitempty"`
	Proof  WorldIDProof `json:"proof"`
}

// VerificationResult результат принятой проверки
type VerificationResult struct {
	Action            string            `json:"action"`
	NullifierHash     string            `json:"nullifier_hash"`
	VerificationLevel VerificationLevel `json:"verification_level"`
}
