package signal

import "testing"

func TestClassifyLiquidityWinsOverEverythingElse(t *testing.T) {
	in := classifyInput{thin: true, liquidityRisk: 0.8, capitalScore: 0.9, liquidityOverride: 0.75}
	class, conf := classify(in)
	if class != "LIQUIDITY" || conf != 0.8 {
		t.Fatalf("classify = %s/%v, want LIQUIDITY/0.8", class, conf)
	}
}

func TestClassifyVelocityBeatsCapitalWhenBothQualify(t *testing.T) {
	in := classifyInput{velocityScore: 0.7, priceScore: 0.5, capitalScore: 0.9}
	class, _ := classify(in)
	if class != "VELOCITY" {
		t.Fatalf("classify = %s, want VELOCITY (priority cascade should stop before CAPITAL)", class)
	}
}

func TestClassifyInfoRequiresMinimumSampleSize(t *testing.T) {
	in := classifyInput{infoScore: 0.6, tradesCount: 5, priceLevels: 2, minInfoTrades: 50, minInfoLevels: 8}
	class, _ := classify(in)
	if class != "" {
		t.Fatalf("classify = %s, want empty (insufficient trades and price levels)", class)
	}
}

func TestClassifyFallsBackToTimeWhenNothingElseMatches(t *testing.T) {
	in := classifyInput{timeScore: 0.4}
	class, conf := classify(in)
	if class != "TIME" || conf != 0.4 {
		t.Fatalf("classify = %s/%v, want TIME/0.4", class, conf)
	}
}

func TestClassifyDropsWhenEverythingIsBelowThreshold(t *testing.T) {
	class, _ := classify(classifyInput{})
	if class != "" {
		t.Fatalf("classify = %s, want empty drop", class)
	}
}
