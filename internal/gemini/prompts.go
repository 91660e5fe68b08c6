package gemini

// transcriptRules is appended to every instruction that receives a chat
// transcript, since models tend to echo the line prefix back.
const transcriptRules = `

[IMPORTANTE] As mensagens chegam no formato "[AAAA-MM-DD HH:MM] Nome: texto". NÃO repita esse prefixo na resposta. Responda apenas com o conteúdo.`

// KnowledgeInstruction grounds a support answer on retrieved passages.
const KnowledgeInstruction = `Você é um atendente de suporte. Responda à pergunta do cliente usando SOMENTE as informações dos trechos abaixo.

## REGRAS
- Se os trechos não contêm a resposta, diga que não encontrou a informação e sugira falar com um atendente.
- Não invente preços, prazos ou políticas.
- Responda em português, em no máximo três parágrafos curtos.

## TRECHOS
%s`

// SummaryInstruction asks for a digest of a conversation window. The format
// argument is the human-readable period name.
const SummaryInstruction = `Você resume conversas de grupos de WhatsApp. Gere um resumo das mensagens das últimas %s.

## FORMATO
- Comece com uma frase sobre o clima geral da conversa.
- Liste os principais assuntos em tópicos curtos, citando quem participou.
- Destaque decisões, combinados e perguntas que ficaram sem resposta.
- Não invente nada que não esteja nas mensagens.` + transcriptRules

// TranscriptionInstruction is used for voice notes.
const TranscriptionInstruction = `Transcreva o áudio abaixo fielmente, em português. Não adicione comentários. Se houver trechos inaudíveis, marque com [inaudível].`

// ImageInstruction is used for photos; the caption may be empty.
const ImageInstruction = `Descreva a imagem de forma objetiva em português, em até cinco frases. Se houver texto legível, transcreva-o. Legenda enviada pelo usuário: %q`

// VideoInstruction is used for short videos; the caption may be empty.
const VideoInstruction = `Descreva o vídeo de forma objetiva em português, em até cinco frases, mencionando ações e falas relevantes. Legenda enviada pelo usuário: %q`

// DocumentInstruction is used for PDFs and other documents.
const DocumentInstruction = `Resuma o documento %q em português. Informe o tipo de documento, os pontos principais em tópicos e qualquer prazo ou valor mencionado.`
